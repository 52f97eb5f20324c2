package types

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// Kind is the storage class of a persisted field. The set is closed: every
// field of a record classifies into exactly one Kind.
type Kind int

// Storable kinds. KindUnsupported fields are skipped silently when a record's
// columns are derived; they are never an error.
const (
	KindUnsupported Kind = iota
	KindInt
	KindOptionalInt
	KindText
	KindOptionalText
	KindReal
	KindOptionalReal
	KindBool
	KindOptionalBool
	KindBlob
	KindOptionalBlob
)

var kindNames = map[Kind]string{
	KindUnsupported:  "unsupported",
	KindInt:          "int",
	KindOptionalInt:  "int?",
	KindText:         "text",
	KindOptionalText: "text?",
	KindReal:         "real",
	KindOptionalReal: "real?",
	KindBool:         "bool",
	KindOptionalBool: "bool?",
	KindBlob:         "blob",
	KindOptionalBlob: "blob?",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Optional reports whether the kind admits NULL.
func (k Kind) Optional() bool {
	switch k {
	case KindOptionalInt, KindOptionalText, KindOptionalReal, KindOptionalBool, KindOptionalBlob:
		return true
	}
	return false
}

// Supported reports whether fields of this kind are persisted.
func (k Kind) Supported() bool {
	return k > KindUnsupported && k <= KindOptionalBlob
}

// SQLType returns the SQLite column type used for the kind. Booleans are
// stored as 0/1 integers.
func (k Kind) SQLType() string {
	switch k {
	case KindInt, KindOptionalInt, KindBool, KindOptionalBool:
		return "INTEGER"
	case KindText, KindOptionalText:
		return "TEXT"
	case KindReal, KindOptionalReal:
		return "REAL"
	case KindBlob, KindOptionalBlob:
		return "BLOB"
	}
	return ""
}

// DefaultValue returns the value existing rows receive when a column of this
// kind is added: 0, "", 0.0, false, or an empty byte slice. Optional kinds
// default to nil.
func (k Kind) DefaultValue() any {
	switch k {
	case KindInt:
		return int64(0)
	case KindText:
		return ""
	case KindReal:
		return float64(0)
	case KindBool:
		return false
	case KindBlob:
		return []byte{}
	}
	return nil
}

// DefaultSQL returns DefaultValue as a SQL literal for DDL.
func (k Kind) DefaultSQL() string {
	switch k {
	case KindInt, KindBool:
		return "0"
	case KindText:
		return "''"
	case KindReal:
		return "0.0"
	case KindBlob:
		return "X''"
	}
	return "NULL"
}

// Encode converts a field value into the representation written to the
// column. Numeric and boolean values go through a string round trip so that
// mismatched source types (a uint8 in an int column, a numeric string) are
// absorbed. When the round trip cannot parse, required kinds fall back to
// their zero value and optional kinds to nil; Encode never fails. Use
// EncodeStrict to detect the fallback.
func (k Kind) Encode(value any) any {
	v, _ := k.EncodeStrict(value)
	return v
}

// EncodeStrict is Encode that also reports whether the value had to be
// replaced by the kind's fallback.
func (k Kind) EncodeStrict(value any) (any, error) {
	value, isNil := indirect(value)
	if isNil {
		if k.Optional() {
			return nil, nil
		}
		return k.fallback(), nil
	}

	switch k {
	case KindInt, KindOptionalInt:
		s, err := cast.ToStringE(value)
		if err != nil {
			return k.fallback(), fmt.Errorf("%w: %v", ErrCoercion, err)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return k.fallback(), fmt.Errorf("%w: %q is not an integer", ErrCoercion, s)
		}
		return n, nil
	case KindReal, KindOptionalReal:
		s, err := cast.ToStringE(value)
		if err != nil {
			return k.fallback(), fmt.Errorf("%w: %v", ErrCoercion, err)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return k.fallback(), fmt.Errorf("%w: %q is not a real", ErrCoercion, s)
		}
		return f, nil
	case KindBool, KindOptionalBool:
		s, err := cast.ToStringE(value)
		if err != nil {
			return k.fallback(), fmt.Errorf("%w: %v", ErrCoercion, err)
		}
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return k.fallback(), fmt.Errorf("%w: %q is not a bool", ErrCoercion, s)
		}
		if b {
			return int64(1), nil
		}
		return int64(0), nil
	case KindText, KindOptionalText:
		s, err := cast.ToStringE(value)
		if err != nil {
			return k.fallback(), fmt.Errorf("%w: %v", ErrCoercion, err)
		}
		return s, nil
	case KindBlob, KindOptionalBlob:
		switch b := value.(type) {
		case []byte:
			if b == nil {
				return []byte{}, nil
			}
			return b, nil
		case string:
			return []byte(b), nil
		}
		return k.fallback(), fmt.Errorf("%w: %T is not a byte slice", ErrCoercion, value)
	}
	return nil, fmt.Errorf("%w: kind %s", ErrCoercion, k)
}

// fallback is the value substituted when coercion fails.
func (k Kind) fallback() any {
	if k == KindBool {
		return int64(0)
	}
	return k.DefaultValue()
}

// Decode converts a raw value scanned from a column into the kind's native
// representation: int64, string, float64, bool or []byte for required kinds,
// and a pointer to those (or nil) for optional kinds. Blob kinds decode to
// []byte in both cases.
func (k Kind) Decode(raw any) (any, error) {
	if raw == nil {
		switch {
		case k.Optional():
			return nil, nil
		case k == KindBlob:
			return []byte{}, nil
		}
		return nil, fmt.Errorf("%w: NULL in %s column", ErrDecode, k)
	}

	switch k {
	case KindInt, KindOptionalInt:
		n, err := rawInt(raw)
		if err != nil {
			return nil, err
		}
		if k == KindOptionalInt {
			return &n, nil
		}
		return n, nil
	case KindReal, KindOptionalReal:
		f, err := rawReal(raw)
		if err != nil {
			return nil, err
		}
		if k == KindOptionalReal {
			return &f, nil
		}
		return f, nil
	case KindBool, KindOptionalBool:
		n, err := rawInt(raw)
		if err != nil {
			return nil, err
		}
		b := n != 0
		if k == KindOptionalBool {
			return &b, nil
		}
		return b, nil
	case KindText, KindOptionalText:
		var s string
		switch v := raw.(type) {
		case string:
			s = v
		case []byte:
			s = string(v)
		default:
			return nil, fmt.Errorf("%w: %T in text column", ErrDecode, raw)
		}
		if k == KindOptionalText {
			return &s, nil
		}
		return s, nil
	case KindBlob, KindOptionalBlob:
		switch v := raw.(type) {
		case []byte:
			return append([]byte{}, v...), nil
		case string:
			return []byte(v), nil
		}
		return nil, fmt.Errorf("%w: %T in blob column", ErrDecode, raw)
	}
	return nil, fmt.Errorf("%w: kind %s", ErrDecode, k)
}

func rawInt(raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %v is not integral", ErrDecode, v)
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrDecode, v)
		}
		return n, nil
	case []byte:
		return rawInt(string(v))
	}
	return 0, fmt.Errorf("%w: %T in integer column", ErrDecode, raw)
}

func rawReal(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a real", ErrDecode, v)
		}
		return f, nil
	case []byte:
		return rawReal(string(v))
	}
	return 0, fmt.Errorf("%w: %T in real column", ErrDecode, raw)
}

// indirect dereferences pointer values and reports whether the value is nil.
func indirect(value any) (any, bool) {
	if value == nil {
		return nil, true
	}
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, true
		}
		rv = rv.Elem()
	}
	return rv.Interface(), false
}
