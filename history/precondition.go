package history

import (
	"fmt"
	"reflect"
)

// PreconditionKind enumerates the hard-failure classes that abort analysis
// before it starts. These are never mixed with anomalies (spec.md §7).
type PreconditionKind int

const (
	HistoryTypeMismatch PreconditionKind = iota
	MalformedOp
)

func (k PreconditionKind) String() string {
	switch k {
	case HistoryTypeMismatch:
		return "HistoryTypeMismatch"
	case MalformedOp:
		return "MalformedOp"
	default:
		return "UnknownPreconditionKind"
	}
}

// PreconditionError reports a fatal violation of the data-model invariants
// in spec.md §3. No partial result is produced alongside it.
type PreconditionError struct {
	Kind PreconditionKind
	Msg  string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// CheckTypeSanity enforces spec.md §3's invariants: every key across the
// history shares one type, and every integer-typed value (a scalar, or an
// element of a list value) shares one integer bit width. Mixing widths (e.g.
// int32 values alongside int64 values) is a fatal precondition violation.
// Keys are compared by kind only; their width is not checked against values.
func CheckTypeSanity(ops []Op) error {
	var keyKind reflect.Kind
	keySeen := false
	var intKind reflect.Kind
	intSeen := false

	checkKey := func(k Key) error {
		if k == nil {
			return nil
		}
		kind := reflect.TypeOf(k).Kind()
		if !keySeen {
			keyKind, keySeen = kind, true
			return nil
		}
		if kind != keyKind {
			return &PreconditionError{Kind: HistoryTypeMismatch, Msg: fmt.Sprintf("keys of kind %s mixed with keys of kind %s", kind, keyKind)}
		}
		return nil
	}

	checkScalar := func(v Value) error {
		if v == nil {
			return nil
		}
		kind := reflect.TypeOf(v).Kind()
		if !isInt(kind) {
			return nil
		}
		if !intSeen {
			intKind, intSeen = kind, true
			return nil
		}
		if kind != intKind {
			return &PreconditionError{Kind: HistoryTypeMismatch, Msg: fmt.Sprintf("integer values of width %s mixed with width %s", kind, intKind)}
		}
		return nil
	}

	for _, op := range ops {
		for _, m := range op.Value {
			if err := checkKey(m.Key); err != nil {
				return err
			}
			switch v := m.Value.(type) {
			case nil:
				continue
			default:
				rv := reflect.ValueOf(v)
				if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
					for i := 0; i < rv.Len(); i++ {
						if err := checkScalar(rv.Index(i).Interface()); err != nil {
							return err
						}
					}
					continue
				}
				if err := checkScalar(v); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func isInt(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	default:
		return false
	}
}
