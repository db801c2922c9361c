package ads

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/exp/constraints"
)

// Value is a process value. Its dynamic type is the canonical Go type of
// its DataType: bool, int8, uint8, int16, uint16, int32, uint32, float32,
// float64 or string.
type Value any

var ErrValueType = errors.New("value does not match data type")

// Accepts reports whether v has the canonical Go type for t.
func (t DataType) Accepts(v Value) bool {
	switch v.(type) {
	case bool:
		return t.tag == TagBool
	case int8:
		return t.tag == TagInt8
	case uint8:
		return t.tag == TagUint8
	case int16:
		return t.tag == TagInt16
	case uint16:
		return t.tag == TagUint16
	case int32:
		return t.tag == TagInt32
	case uint32:
		return t.tag == TagUint32
	case float32:
		return t.tag == TagFloat32
	case float64:
		return t.tag == TagFloat64
	case string:
		return t.tag == TagString && len(v.(string)) < t.size
	}
	return false
}

// Encode serializes v in PLC (little endian) byte order.
func (t DataType) Encode(v Value) ([]byte, error) {
	if !t.Accepts(v) {
		return nil, fmt.Errorf("%w: %T for %s", ErrValueType, v, t)
	}
	buf := make([]byte, t.size)
	switch x := v.(type) {
	case bool:
		if x {
			buf[0] = 1
		}
	case int8:
		buf[0] = byte(x)
	case uint8:
		buf[0] = x
	case int16:
		binary.LittleEndian.PutUint16(buf, uint16(x))
	case uint16:
		binary.LittleEndian.PutUint16(buf, x)
	case int32:
		binary.LittleEndian.PutUint32(buf, uint32(x))
	case uint32:
		binary.LittleEndian.PutUint32(buf, x)
	case float32:
		binary.LittleEndian.PutUint32(buf, math.Float32bits(x))
	case float64:
		binary.LittleEndian.PutUint64(buf, math.Float64bits(x))
	case string:
		copy(buf, x)
	}
	return buf, nil
}

// Decode parses a value of type t from PLC byte order.
func (t DataType) Decode(b []byte) (Value, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid data type")
	}
	if t.tag == TagString {
		if i := strings.IndexByte(string(b), 0); i >= 0 {
			b = b[:i]
		}
		if len(b) >= t.size {
			b = b[:t.size-1]
		}
		return string(b), nil
	}
	if len(b) < t.size {
		return nil, fmt.Errorf("short data for %s: need %d bytes, got %d", t, t.size, len(b))
	}
	switch t.tag {
	case TagBool:
		return b[0] != 0, nil
	case TagInt8:
		return int8(b[0]), nil
	case TagUint8:
		return b[0], nil
	case TagInt16:
		return int16(binary.LittleEndian.Uint16(b)), nil
	case TagUint16:
		return binary.LittleEndian.Uint16(b), nil
	case TagInt32:
		return int32(binary.LittleEndian.Uint32(b)), nil
	case TagUint32:
		return binary.LittleEndian.Uint32(b), nil
	case TagFloat32:
		return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
	default:
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	}
}

// Coerce converts loosely typed input (JSON numbers, form text, other Go
// integer widths) into the canonical value for t. Out of range or non
// integral input is rejected rather than truncated.
func Coerce(v any, t DataType) (Value, error) {
	if t.Accepts(v) {
		return v, nil
	}
	switch t.tag {
	case TagBool:
		return toBool(v)
	case TagInt8:
		return coerceSigned[int8](v, t)
	case TagInt16:
		return coerceSigned[int16](v, t)
	case TagInt32:
		return coerceSigned[int32](v, t)
	case TagUint8:
		return coerceUnsigned[uint8](v, t)
	case TagUint16:
		return coerceUnsigned[uint16](v, t)
	case TagUint32:
		return coerceUnsigned[uint32](v, t)
	case TagFloat32:
		f, err := toFloat64(v)
		if err != nil {
			return nil, err
		}
		if !math.IsInf(f, 0) && math.Abs(f) > math.MaxFloat32 {
			return nil, fmt.Errorf("%w: %v overflows %s", ErrValueType, v, t)
		}
		return float32(f), nil
	case TagFloat64:
		return toFloat64(v)
	case TagString:
		var s string
		switch x := v.(type) {
		case string:
			s = x
		case fmt.Stringer:
			s = x.String()
		default:
			s = fmt.Sprint(v)
		}
		if len(s) >= t.size {
			return nil, fmt.Errorf("%w: %d characters exceed %s", ErrValueType, len(s), t)
		}
		return s, nil
	}
	return nil, fmt.Errorf("invalid data type")
}

// Normalize widens v to bool, int64, uint64, float64 or string, the shapes
// JSON and protobuf encoders understand.
func Normalize(v Value) any {
	switch x := v.(type) {
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int:
		return int64(x)
	case uint8:
		return uint64(x)
	case uint16:
		return uint64(x)
	case uint32:
		return uint64(x)
	case uint:
		return uint64(x)
	case float32:
		return float64(x)
	}
	return v
}

func coerceSigned[T constraints.Signed](v any, t DataType) (Value, error) {
	i, err := toInt64(v)
	if err != nil {
		return nil, err
	}
	out := T(i)
	if int64(out) != i {
		return nil, fmt.Errorf("%w: %d out of range for %s", ErrValueType, i, t)
	}
	return out, nil
}

func coerceUnsigned[T constraints.Unsigned](v any, t DataType) (Value, error) {
	i, err := toInt64(v)
	if err != nil {
		return nil, err
	}
	out := T(i)
	if i < 0 || int64(out) != i {
		return nil, fmt.Errorf("%w: %d out of range for %s", ErrValueType, i, t)
	}
	return out, nil
}

func fromUnsigned[T constraints.Unsigned](u T) (int64, error) {
	if uint64(u) > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d overflows int64", ErrValueType, u)
	}
	return int64(u), nil
}

func fromFloat[T constraints.Float](f T) (int64, error) {
	x := float64(f)
	if math.Trunc(x) != x || x > math.MaxInt64 || x < math.MinInt64 {
		return 0, fmt.Errorf("%w: %v is not an integer", ErrValueType, f)
	}
	return int64(x), nil
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return fromUnsigned(x)
	case uint8:
		return fromUnsigned(x)
	case uint16:
		return fromUnsigned(x)
	case uint32:
		return fromUnsigned(x)
	case uint64:
		return fromUnsigned(x)
	case float32:
		return fromFloat(x)
	case float64:
		return fromFloat(x)
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrValueType, x)
		}
		return fromFloat(f)
	case string:
		s := strings.TrimSpace(x)
		if i, err := strconv.ParseInt(s, 0, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrValueType, x)
		}
		return fromFloat(f)
	}
	return 0, fmt.Errorf("%w: cannot convert %T to integer", ErrValueType, v)
}

func toFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrValueType, x)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrValueType, x)
		}
		return f, nil
	}
	i, err := toInt64(v)
	if err != nil {
		return 0, fmt.Errorf("%w: cannot convert %T to float", ErrValueType, v)
	}
	return float64(i), nil
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "true", "on", "yes":
			return true, nil
		case "0", "false", "off", "no", "":
			return false, nil
		}
		return false, fmt.Errorf("%w: %q is not a boolean", ErrValueType, x)
	}
	i, err := toInt64(v)
	if err != nil {
		f, ferr := toFloat64(v)
		if ferr != nil {
			return false, fmt.Errorf("%w: cannot convert %T to BOOL", ErrValueType, v)
		}
		return f != 0, nil
	}
	return i != 0, nil
}
