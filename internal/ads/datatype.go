package ads

import (
	"fmt"
	"strconv"
	"strings"
)

// Tag is the kind of a PLC scalar.
type Tag uint8

const (
	TagBool Tag = iota + 1
	TagInt8
	TagUint8
	TagInt16
	TagUint16
	TagInt32
	TagUint32
	TagFloat32
	TagFloat64
	TagString
)

// DataType describes a PLC scalar: its tag and its width in bytes.
type DataType struct {
	tag  Tag
	size int
}

// DefaultStringLength is the character count of a plain STRING.
const DefaultStringLength = 80

var (
	TypeBool   = DataType{TagBool, 1}
	TypeSInt   = DataType{TagInt8, 1}
	TypeUSInt  = DataType{TagUint8, 1}
	TypeInt    = DataType{TagInt16, 2}
	TypeUInt   = DataType{TagUint16, 2}
	TypeDInt   = DataType{TagInt32, 4}
	TypeUDInt  = DataType{TagUint32, 4}
	TypeReal   = DataType{TagFloat32, 4}
	TypeLReal  = DataType{TagFloat64, 8}
	TypeString = StringType(DefaultStringLength)

	// Aliases sharing a representation
	TypeByte  = TypeUSInt
	TypeWord  = TypeUInt
	TypeDWord = TypeUDInt
	TypeTime  = TypeDInt
	TypeTOD   = TypeDInt
	TypeDate  = TypeDInt
	TypeDT    = TypeDInt
)

// StringType returns a fixed width STRING(n), n characters plus terminator.
func StringType(n int) DataType {
	if n < 1 {
		n = DefaultStringLength
	}
	return DataType{TagString, n + 1}
}

// Tag returns the scalar kind.
func (t DataType) Tag() Tag { return t.tag }

// Size returns the width in bytes.
func (t DataType) Size() int { return t.size }

// IsBool reports whether t is BOOL.
func (t DataType) IsBool() bool { return t.tag == TagBool }

// Valid reports whether t is one of the known types.
func (t DataType) Valid() bool { return t.tag >= TagBool && t.tag <= TagString && t.size > 0 }

func (t DataType) String() string {
	switch t.tag {
	case TagBool:
		return "BOOL"
	case TagInt8:
		return "SINT"
	case TagUint8:
		return "USINT"
	case TagInt16:
		return "INT"
	case TagUint16:
		return "UINT"
	case TagInt32:
		return "DINT"
	case TagUint32:
		return "UDINT"
	case TagFloat32:
		return "REAL"
	case TagFloat64:
		return "LREAL"
	case TagString:
		if t.size == DefaultStringLength+1 {
			return "STRING"
		}
		return fmt.Sprintf("STRING(%d)", t.size-1)
	default:
		return "INVALID"
	}
}

var typeNames = map[string]DataType{
	"BOOL":  TypeBool,
	"BYTE":  TypeByte,
	"SINT":  TypeSInt,
	"USINT": TypeUSInt,
	"INT":   TypeInt,
	"UINT":  TypeUInt,
	"WORD":  TypeWord,
	"DINT":  TypeDInt,
	"UDINT": TypeUDInt,
	"DWORD": TypeDWord,
	"REAL":  TypeReal,
	"LREAL": TypeLReal,
	"TIME":  TypeTime,
	"TOD":   TypeTOD,
	"DATE":  TypeDate,
	"DT":    TypeDT,
}

// ParseDataType parses a type name such as "REAL", "dint" or "STRING(20)".
func ParseDataType(s string) (DataType, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if t, ok := typeNames[name]; ok {
		return t, nil
	}
	if name == "STRING" {
		return TypeString, nil
	}
	if strings.HasPrefix(name, "STRING(") && strings.HasSuffix(name, ")") {
		n, err := strconv.Atoi(name[len("STRING(") : len(name)-1])
		if err != nil || n < 1 {
			return DataType{}, fmt.Errorf("invalid string length in %q", s)
		}
		return StringType(n), nil
	}
	return DataType{}, fmt.Errorf("unknown data type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t DataType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid data type")
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *DataType) UnmarshalText(text []byte) error {
	parsed, err := ParseDataType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
