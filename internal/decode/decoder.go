package decode

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"logexport/internal/eventabi"
)

// selectorPlaceholder fills the selector slot that event payloads do not use.
const selectorPlaceholder = "0x00000000"

// Decoder turns raw logs into rendered field values for one event signature.
type Decoder struct {
	sig      *eventabi.Signature
	argTypes []abi.Type
	strict   bool
}

// NewDecoder builds a Decoder. The signature is shared read-only.
func NewDecoder(sig *eventabi.Signature, strict bool) *Decoder {
	return &Decoder{sig: sig, argTypes: sig.ArgumentTypes(), strict: strict}
}

// Payload concatenates the selector placeholder, the indexed topics and the
// log data into one hex string.
func Payload(log types.Log) string {
	var b strings.Builder
	b.Grow(len(selectorPlaceholder) + len(log.Topics)*common.HashLength*2 + len(log.Data)*2)
	b.WriteString(selectorPlaceholder)
	if len(log.Topics) > 1 {
		for _, topic := range log.Topics[1:] {
			b.WriteString(hex.EncodeToString(topic[:]))
		}
	}
	b.WriteString(hex.EncodeToString(log.Data))
	return b.String()
}

// Decode returns the rendered values of a log. Errors wrap eventabi.ErrDecode.
func (d *Decoder) Decode(log types.Log) ([]string, error) {
	values, err := d.sig.Decode(Payload(log), d.strict)
	if err != nil {
		return nil, err
	}

	fields := make([]string, 0, len(values))
	for i, value := range values {
		fields = append(fields, RenderValue(d.argTypes[i], value))
	}
	return fields, nil
}

// RenderValue renders a decoded value of the given ABI type: addresses as
// 0x-prefixed lowercase hex, integers as decimal, byte strings as bare hex,
// arrays as [a,b] and tuples as (a,b). Nested addresses drop the 0x prefix.
func RenderValue(typ abi.Type, value interface{}) string {
	if typ.T == abi.AddressTy {
		if addr, ok := value.(common.Address); ok {
			return "0x" + hex.EncodeToString(addr.Bytes())
		}
	}
	return render(typ, reflect.ValueOf(value))
}

func render(typ abi.Type, v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	if v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			if typ.T == abi.IntTy || typ.T == abi.UintTy {
				return "0"
			}
			return ""
		}
		if n, ok := v.Interface().(*big.Int); ok {
			return n.String()
		}
		return render(typ, v.Elem())
	}

	switch typ.T {
	case abi.AddressTy:
		if addr, ok := v.Interface().(common.Address); ok {
			return hex.EncodeToString(addr.Bytes())
		}
	case abi.BytesTy, abi.FixedBytesTy, abi.FunctionTy, abi.HashTy:
		return hex.EncodeToString(byteValues(v))
	case abi.SliceTy, abi.ArrayTy:
		if typ.Elem != nil && (v.Kind() == reflect.Slice || v.Kind() == reflect.Array) {
			parts := make([]string, 0, v.Len())
			for i := 0; i < v.Len(); i++ {
				parts = append(parts, render(*typ.Elem, v.Index(i)))
			}
			return "[" + strings.Join(parts, ",") + "]"
		}
	case abi.TupleTy:
		if v.Kind() == reflect.Struct && v.NumField() == len(typ.TupleElems) {
			parts := make([]string, 0, v.NumField())
			for i := 0; i < v.NumField(); i++ {
				parts = append(parts, render(*typ.TupleElems[i], v.Field(i)))
			}
			return "(" + strings.Join(parts, ",") + ")"
		}
	}

	switch v.Kind() {
	case reflect.Bool:
		return fmt.Sprint(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fmt.Sprint(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return fmt.Sprint(v.Uint())
	case reflect.String:
		return v.String()
	default:
		return fmt.Sprint(v.Interface())
	}
}

// byteValues copies a byte slice or byte array into a []byte.
func byteValues(v reflect.Value) []byte {
	if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
		return v.Bytes()
	}
	buf := make([]byte, v.Len())
	for i := range buf {
		buf[i] = byte(v.Index(i).Uint())
	}
	return buf
}
