package decode

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"logexport/internal/eventabi"
)

func topicFromAddress(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}

func uintWord(v int64) []byte {
	return common.LeftPadBytes(big.NewInt(v).Bytes(), 32)
}

func pairCreatedLog(t *testing.T, amount int64) types.Log {
	t.Helper()
	sig, err := eventabi.ParseSignature("PairCreated(address,address,uint256)")
	require.NoError(t, err)

	return types.Log{
		Address: common.HexToAddress("0x5c69bee701ef814a2b6a3edd4b1652cb9cc5aa6f"),
		Topics: []common.Hash{
			sig.Topic0(),
			topicFromAddress(common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")),
			topicFromAddress(common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")),
		},
		Data:        uintWord(amount),
		BlockNumber: 123,
		BlockHash:   common.HexToHash("0x01"),
		TxHash:      common.HexToHash("0x02"),
	}
}

func newDecoder(t *testing.T, signature string) *Decoder {
	t.Helper()
	sig, err := eventabi.ParseSignature(signature)
	require.NoError(t, err)
	return NewDecoder(sig, true)
}

func TestPayloadLength(t *testing.T) {
	cases := []struct {
		topics int
		data   int
	}{
		{topics: 1, data: 0},
		{topics: 1, data: 64},
		{topics: 3, data: 32},
		{topics: 4, data: 96},
		{topics: 0, data: 5},
	}

	for _, tc := range cases {
		log := types.Log{Topics: make([]common.Hash, tc.topics), Data: make([]byte, tc.data)}
		indexed := max(tc.topics-1, 0)

		payload := Payload(log)
		assert.Len(t, payload, 10+64*indexed+2*tc.data)
		assert.True(t, strings.HasPrefix(payload, "0x00000000"))
	}
}

func TestDecodePairCreated(t *testing.T) {
	decoder := newDecoder(t, "PairCreated(address,address,uint256)")

	fields, err := decoder.Decode(pairCreatedLog(t, 1000))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		"1000",
	}, fields)
}

func TestDecodeSignedAndGenericValues(t *testing.T) {
	sig, err := eventabi.ParseSignature("Mixed(int256,int24,bool,bytes32,string,uint16[])")
	require.NoError(t, err)

	args := abi.Arguments{}
	for _, typ := range sig.Types {
		abiType, err := abi.NewType(typ, "", nil)
		require.NoError(t, err)
		args = append(args, abi.Argument{Type: abiType})
	}
	data, err := args.Pack(
		big.NewInt(-42),
		big.NewInt(-15),
		true,
		[32]byte{0xde, 0xad},
		"hello",
		[]uint16{1, 2, 3},
	)
	require.NoError(t, err)

	fields, err := NewDecoder(sig, true).Decode(types.Log{Topics: []common.Hash{sig.Topic0()}, Data: data})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-42",
		"-15",
		"true",
		"dead" + strings.Repeat("0", 60),
		"hello",
		"[1,2,3]",
	}, fields)
}

func TestDecodeMismatch(t *testing.T) {
	decoder := newDecoder(t, "PairCreated(address,address,address,uint256)")

	_, err := decoder.Decode(pairCreatedLog(t, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, eventabi.ErrDecode))
}

func mustType(t *testing.T, typ string, components ...abi.ArgumentMarshaling) abi.Type {
	t.Helper()
	abiType, err := abi.NewType(typ, "", components)
	require.NoError(t, err)
	return abiType
}

func TestRenderValue(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000Ab")
	assert.Equal(t, "0x00000000000000000000000000000000000000ab", RenderValue(mustType(t, "address"), addr))
	assert.Equal(t, "[00000000000000000000000000000000000000ab]", RenderValue(mustType(t, "address[]"), []common.Address{addr}))
	assert.Equal(t, "(7,abcd)", RenderValue(mustType(t, "tuple",
		abi.ArgumentMarshaling{Name: "a", Type: "uint256"},
		abi.ArgumentMarshaling{Name: "b", Type: "bytes"},
	), struct {
		A *big.Int
		B []byte
	}{big.NewInt(7), []byte{0xab, 0xcd}}))
	assert.Equal(t, "255", RenderValue(mustType(t, "uint8"), uint8(255)))
	assert.Equal(t, "[1,2]", RenderValue(mustType(t, "uint8[2]"), [2]uint8{1, 2}))
	assert.Equal(t, "0102", RenderValue(mustType(t, "bytes2"), [2]byte{1, 2}))
	assert.Equal(t, "[1,2]", RenderValue(mustType(t, "uint8[]"), []uint8{1, 2}))
	assert.Equal(t, "0102", RenderValue(mustType(t, "bytes"), []byte{1, 2}))
}

func TestDecodeUint8ArraysAsLists(t *testing.T) {
	decoder := newDecoder(t, "Arr(uint8[2],address,uint8[],bytes4)")

	var data []byte
	data = append(data, uintWord(1)...)
	data = append(data, uintWord(2)...)
	data = append(data, common.LeftPadBytes(common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa").Bytes(), 32)...)
	data = append(data, uintWord(5*32)...)
	data = append(data, common.RightPadBytes([]byte{0xde, 0xad, 0xbe, 0xef}, 32)...)
	data = append(data, uintWord(2)...)
	data = append(data, uintWord(3)...)
	data = append(data, uintWord(4)...)

	fields, err := decoder.Decode(types.Log{Data: data})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"[1,2]",
		"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"[3,4]",
		"deadbeef",
	}, fields)
}

func TestDecodeAllSkipsFailures(t *testing.T) {
	decoder := newDecoder(t, "PairCreated(address,address,uint256)")

	logs := []types.Log{pairCreatedLog(t, 1), pairCreatedLog(t, 2), pairCreatedLog(t, 3), pairCreatedLog(t, 4)}
	logs[2].Data = logs[2].Data[:31]
	logs[2].Index = 9

	pool := NewPool(decoder, 3, zap.NewNop(), nil)
	events, failures, err := pool.DecodeAll(context.Background(), logs)
	require.NoError(t, err)

	require.Len(t, events, 3)
	require.Len(t, failures, 1)
	assert.Equal(t, uint64(9), failures[0].LogIndex)

	var amounts []string
	for _, event := range events {
		amounts = append(amounts, event.Fields[2])
	}
	assert.Equal(t, []string{"1", "2", "4"}, amounts)
}

func TestDecodeAllCanceled(t *testing.T) {
	decoder := newDecoder(t, "PairCreated(address,address,uint256)")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	logs := make([]types.Log, 64)
	for i := range logs {
		logs[i] = pairCreatedLog(t, int64(i))
	}
	_, _, err := NewPool(decoder, 1, nil, nil).DecodeAll(ctx, logs)
	assert.ErrorIs(t, err, context.Canceled)
}
