package types

import "fmt"

type integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

type floating interface {
	~float32 | ~float64
}

// binding ties a field pointer to its kind and to typed load/store closures.
// It is built once per field from the pointer's static type, so a nil
// optional field still classifies correctly.
type binding struct {
	kind  Kind
	load  func() any
	store func(decoded any) error
}

// bind classifies ptr and builds its accessors. Unsupported pointer types
// yield a binding with KindUnsupported and nil accessors.
func bind(ptr any) binding {
	switch p := ptr.(type) {
	case *int:
		return bindInt(p)
	case *int8:
		return bindInt(p)
	case *int16:
		return bindInt(p)
	case *int32:
		return bindInt(p)
	case *int64:
		return bindInt(p)
	case *uint:
		return bindInt(p)
	case *uint8:
		return bindInt(p)
	case *uint16:
		return bindInt(p)
	case *uint32:
		return bindInt(p)
	case *uint64:
		return bindInt(p)
	case **int:
		return bindOptionalInt(p)
	case **int8:
		return bindOptionalInt(p)
	case **int16:
		return bindOptionalInt(p)
	case **int32:
		return bindOptionalInt(p)
	case **int64:
		return bindOptionalInt(p)
	case **uint:
		return bindOptionalInt(p)
	case **uint8:
		return bindOptionalInt(p)
	case **uint16:
		return bindOptionalInt(p)
	case **uint32:
		return bindOptionalInt(p)
	case **uint64:
		return bindOptionalInt(p)
	case *float32:
		return bindReal(p)
	case *float64:
		return bindReal(p)
	case **float32:
		return bindOptionalReal(p)
	case **float64:
		return bindOptionalReal(p)
	case *string:
		return binding{
			kind: KindText,
			load: func() any { return *p },
			store: func(v any) error {
				s, ok := v.(string)
				if !ok {
					return mismatch(KindText, v)
				}
				*p = s
				return nil
			},
		}
	case **string:
		return binding{
			kind: KindOptionalText,
			load: func() any { return *p },
			store: func(v any) error {
				switch s := v.(type) {
				case nil:
					*p = nil
				case *string:
					*p = s
				case string:
					*p = &s
				default:
					return mismatch(KindOptionalText, v)
				}
				return nil
			},
		}
	case *bool:
		return binding{
			kind: KindBool,
			load: func() any { return *p },
			store: func(v any) error {
				b, ok := v.(bool)
				if !ok {
					return mismatch(KindBool, v)
				}
				*p = b
				return nil
			},
		}
	case **bool:
		return binding{
			kind: KindOptionalBool,
			load: func() any { return *p },
			store: func(v any) error {
				switch b := v.(type) {
				case nil:
					*p = nil
				case *bool:
					*p = b
				case bool:
					*p = &b
				default:
					return mismatch(KindOptionalBool, v)
				}
				return nil
			},
		}
	case *[]byte:
		return binding{
			kind: KindBlob,
			load: func() any { return *p },
			store: func(v any) error {
				b, ok := v.([]byte)
				if !ok {
					return mismatch(KindBlob, v)
				}
				*p = b
				return nil
			},
		}
	case **[]byte:
		return binding{
			kind: KindOptionalBlob,
			load: func() any { return *p },
			store: func(v any) error {
				switch b := v.(type) {
				case nil:
					*p = nil
				case []byte:
					*p = &b
				case *[]byte:
					*p = b
				default:
					return mismatch(KindOptionalBlob, v)
				}
				return nil
			},
		}
	}
	return binding{kind: KindUnsupported}
}

func bindInt[T integer](p *T) binding {
	return binding{
		kind: KindInt,
		load: func() any { return *p },
		store: func(v any) error {
			n, ok := v.(int64)
			if !ok {
				return mismatch(KindInt, v)
			}
			*p = T(n)
			return nil
		},
	}
}

func bindOptionalInt[T integer](p **T) binding {
	return binding{
		kind: KindOptionalInt,
		load: func() any { return *p },
		store: func(v any) error {
			switch n := v.(type) {
			case nil:
				*p = nil
			case *int64:
				if n == nil {
					*p = nil
					return nil
				}
				x := T(*n)
				*p = &x
			case int64:
				x := T(n)
				*p = &x
			default:
				return mismatch(KindOptionalInt, v)
			}
			return nil
		},
	}
}

func bindReal[T floating](p *T) binding {
	return binding{
		kind: KindReal,
		load: func() any { return *p },
		store: func(v any) error {
			f, ok := v.(float64)
			if !ok {
				return mismatch(KindReal, v)
			}
			*p = T(f)
			return nil
		},
	}
}

func bindOptionalReal[T floating](p **T) binding {
	return binding{
		kind: KindOptionalReal,
		load: func() any { return *p },
		store: func(v any) error {
			switch f := v.(type) {
			case nil:
				*p = nil
			case *float64:
				if f == nil {
					*p = nil
					return nil
				}
				x := T(*f)
				*p = &x
			case float64:
				x := T(f)
				*p = &x
			default:
				return mismatch(KindOptionalReal, v)
			}
			return nil
		},
	}
}

func mismatch(k Kind, v any) error {
	return fmt.Errorf("%w: cannot assign %T to %s field", ErrDecode, v, k)
}

// Classify returns the storage kind of a field from the static type of its
// pointer. It never inspects the pointed-to value.
func Classify(ptr any) Kind {
	return bind(ptr).kind
}
