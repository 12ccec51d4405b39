package eventabi

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SelectorSize is the width of the leading selector slot in a payload.
const SelectorSize = 4

// ErrDecode is wrapped by every payload decode failure.
var ErrDecode = errors.New("abi decode")

var bareIntType = regexp.MustCompile(`^(u?int)(\[|$)`)

// Signature is a parsed event declaration such as
// "PairCreated(address,address,address,uint256)".
type Signature struct {
	Name  string
	Types []string

	arguments abi.Arguments
}

// ParseSignature parses a human-readable event signature. Parameter names and
// the indexed keyword are accepted and ignored.
func ParseSignature(input string) (*Signature, error) {
	input = strings.TrimSpace(input)
	open := strings.IndexByte(input, '(')
	if open <= 0 || !strings.HasSuffix(input, ")") {
		return nil, fmt.Errorf("invalid event signature: %q", input)
	}
	if end := matchingParen(input, open); end != len(input)-1 {
		return nil, fmt.Errorf("invalid event signature: %q", input)
	}

	name := strings.TrimSpace(input[:open])
	params, err := splitTopLevel(input[open+1 : len(input)-1])
	if err != nil {
		return nil, fmt.Errorf("invalid event signature %q: %w", input, err)
	}

	sig := &Signature{Name: name}
	for i, param := range params {
		typ, err := paramType(param)
		if err != nil {
			return nil, fmt.Errorf("invalid event signature %q: %w", input, err)
		}
		marshaling, err := argumentMarshaling(fmt.Sprintf("arg%d", i), typ)
		if err != nil {
			return nil, fmt.Errorf("invalid event signature %q: %w", input, err)
		}
		abiType, err := abi.NewType(marshaling.Type, "", marshaling.Components)
		if err != nil {
			return nil, fmt.Errorf("invalid type %q: %w", typ, err)
		}
		sig.Types = append(sig.Types, typ)
		sig.arguments = append(sig.arguments, abi.Argument{Name: marshaling.Name, Type: abiType})
	}

	return sig, nil
}

// Canonical returns the signature in the form hashed into topic0.
func (s *Signature) Canonical() string {
	return s.Name + "(" + strings.Join(s.Types, ",") + ")"
}

// ArgumentTypes returns the ABI type of each parameter, in declaration order.
func (s *Signature) ArgumentTypes() []abi.Type {
	out := make([]abi.Type, 0, len(s.arguments))
	for _, arg := range s.arguments {
		out = append(out, arg.Type)
	}
	return out
}

// Topic0 returns the keccak256 hash of the canonical signature.
func (s *Signature) Topic0() common.Hash {
	return crypto.Keccak256Hash([]byte(s.Canonical()))
}

// Decode decodes a 0x-prefixed payload made of a 4-byte selector slot followed
// by the ABI encoding of all arguments. In strict mode the payload must be
// exactly the canonical encoding of the decoded values.
func (s *Signature) Decode(payload string, strict bool) ([]interface{}, error) {
	data, err := hexutil.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid payload: %v", ErrDecode, err)
	}
	if len(data) < SelectorSize {
		return nil, fmt.Errorf("%w: payload shorter than selector", ErrDecode)
	}
	body := data[SelectorSize:]

	values, err := s.arguments.Unpack(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, s.Canonical(), err)
	}

	if strict {
		encoded, err := s.arguments.Pack(values...)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: re-encode: %v", ErrDecode, s.Canonical(), err)
		}
		if !bytes.Equal(encoded, body) {
			return nil, fmt.Errorf("%w: %s: payload is %d bytes, canonical encoding is %d bytes",
				ErrDecode, s.Canonical(), len(body), len(encoded))
		}
	}

	return values, nil
}

func paramType(param string) (string, error) {
	param = strings.TrimSpace(param)
	if param == "" {
		return "", fmt.Errorf("empty parameter")
	}
	if strings.HasPrefix(param, "tuple(") {
		param = strings.TrimPrefix(param, "tuple")
	}

	if strings.HasPrefix(param, "(") {
		end := matchingParen(param, 0)
		if end < 0 {
			return "", fmt.Errorf("unbalanced parameter %q", param)
		}
		rest := param[end+1:]
		suffix := rest
		if i := strings.IndexAny(rest, " \t"); i >= 0 {
			suffix = rest[:i]
		}
		inner, err := splitTopLevel(param[1:end])
		if err != nil {
			return "", err
		}
		types := make([]string, 0, len(inner))
		for _, p := range inner {
			t, err := paramType(p)
			if err != nil {
				return "", err
			}
			types = append(types, t)
		}
		return "(" + strings.Join(types, ",") + ")" + suffix, nil
	}

	typ := strings.Fields(param)[0]
	return bareIntType.ReplaceAllString(typ, "${1}256$2"), nil
}

func argumentMarshaling(name, typ string) (abi.ArgumentMarshaling, error) {
	if !strings.HasPrefix(typ, "(") {
		return abi.ArgumentMarshaling{Name: name, Type: typ}, nil
	}

	end := matchingParen(typ, 0)
	inner, err := splitTopLevel(typ[1:end])
	if err != nil {
		return abi.ArgumentMarshaling{}, err
	}
	components := make([]abi.ArgumentMarshaling, 0, len(inner))
	for i, component := range inner {
		c, err := argumentMarshaling(fmt.Sprintf("field%d", i), component)
		if err != nil {
			return abi.ArgumentMarshaling{}, err
		}
		components = append(components, c)
	}
	return abi.ArgumentMarshaling{Name: name, Type: "tuple" + typ[end+1:], Components: components}, nil
}

// splitTopLevel splits on commas that are not nested inside parentheses.
func splitTopLevel(input string) ([]string, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}

	var parts []string
	depth, start := 0, 0
	for i, r := range input {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parentheses")
			}
		case ',':
			if depth == 0 {
				parts = append(parts, input[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced parentheses")
	}
	return append(parts, input[start:]), nil
}

func matchingParen(input string, open int) int {
	depth := 0
	for i := open; i < len(input); i++ {
		switch input[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
