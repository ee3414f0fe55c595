package cache

import (
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// ErrInvalidKey is returned when no usable key can be derived.
var ErrInvalidKey = errors.New("cache: key is invalid")

// KeyFunc serializes call arguments into the argument part of a cache key.
// It must be deterministic: structurally equal arguments must yield equal
// strings.
type KeyFunc func(args any) (string, error)

// Canonical is the default KeyFunc. It encodes args as JSON; encoding/json
// sorts map keys and emits struct fields in declaration order, so the result
// does not depend on map iteration order.
//
// Types with fields JSON leaves out are rejected, since two arguments that
// differ only in such a field would share a key.
func Canonical(args any) (string, error) {
	if args != nil {
		if err := CheckArgs(reflect.TypeOf(args)); err != nil {
			return "", err
		}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Key derives the cache key for one invocation: functionID followed by the
// serialized arguments. A nil keyFn means Canonical.
func Key(functionID string, args any, keyFn KeyFunc) (string, error) {
	if strings.TrimSpace(functionID) == "" {
		return "", fmt.Errorf("%w: empty function id", ErrInvalidKey)
	}
	if keyFn == nil {
		keyFn = Canonical
	}
	s, err := keyFn(args)
	if err != nil {
		if errors.Is(err, ErrInvalidKey) {
			return "", err
		}
		return "", fmt.Errorf("%w: serialize arguments: %w", ErrInvalidKey, err)
	}
	return functionID + s, nil
}

var checkedTypes sync.Map // reflect.Type -> error

// CheckArgs reports whether values of t encode every field they carry under
// Canonical. It fails with ErrInvalidKey when t reaches a struct field that
// is unexported or tagged `json:"-"`. Types with their own JSON or text
// marshaller are trusted. Interface-typed parts are checked per call.
func CheckArgs(t reflect.Type) error {
	if t == nil {
		return nil
	}
	if v, ok := checkedTypes.Load(t); ok {
		err, _ := v.(error)
		return err
	}
	err := walkArgs(t, nil, make(map[reflect.Type]bool))
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrInvalidKey, t, err)
	}
	checkedTypes.Store(t, err)
	return err
}

var (
	jsonMarshaler = reflect.TypeFor[json.Marshaler]()
	textMarshaler = reflect.TypeFor[encoding.TextMarshaler]()
)

func marshalsItself(t reflect.Type) bool {
	if t.Implements(jsonMarshaler) || t.Implements(textMarshaler) {
		return true
	}
	p := reflect.PointerTo(t)
	return p.Implements(jsonMarshaler) || p.Implements(textMarshaler)
}

func walkArgs(t reflect.Type, path []string, seen map[reflect.Type]bool) error {
	if seen[t] || marshalsItself(t) {
		return nil
	}
	seen[t] = true

	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return walkArgs(t.Elem(), path, seen)
	case reflect.Map:
		if err := walkArgs(t.Key(), path, seen); err != nil {
			return err
		}
		return walkArgs(t.Elem(), path, seen)
	case reflect.Struct:
		for i := range t.NumField() {
			f := t.Field(i)
			at := append(path, f.Name)
			if f.Tag.Get("json") == "-" {
				return fmt.Errorf("field %s is excluded from JSON", strings.Join(at, "."))
			}
			if !f.IsExported() {
				// JSON promotes the exported fields of an embedded struct.
				ft := f.Type
				if ft.Kind() == reflect.Pointer {
					ft = ft.Elem()
				}
				if !f.Anonymous || ft.Kind() != reflect.Struct {
					return fmt.Errorf("field %s is unexported", strings.Join(at, "."))
				}
			}
			if err := walkArgs(f.Type, at, seen); err != nil {
				return err
			}
		}
	}
	return nil
}
