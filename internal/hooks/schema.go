package hooks

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	pkg "github.com/peteski22/plugin-hooks/pkg/contract/plugin"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		validateInst = v
	})

	return validateInst
}

// Ensure TypedSchema implements pkg.Schema.
var _ pkg.Schema = (*TypedSchema[struct{}])(nil)

// TypedSchema validates values of type T. Validated values are always *T.
// Struct fields are checked with go-playground/validator `validate` tags.
// NOTE: Use NewSchema to create a TypedSchema.
type TypedSchema[T any] struct {
	typ reflect.Type
}

// NewSchema creates a schema for T.
func NewSchema[T any]() *TypedSchema[T] {
	return &TypedSchema[T]{typ: reflect.TypeFor[*T]()}
}

// Name returns the Go type name.
func (s *TypedSchema[T]) Name() string {
	return s.typ.Elem().String()
}

// Type returns *T.
func (s *TypedSchema[T]) Type() reflect.Type {
	return s.typ
}

// Validate accepts *T, T, JSON bytes or a generic map and returns a checked *T.
func (s *TypedSchema[T]) Validate(raw any) (any, error) {
	var v *T

	switch r := raw.(type) {
	case nil:
		return nil, fmt.Errorf("%w: %s: value is nil", ErrSchema, s.Name())
	case *T:
		if r == nil {
			return nil, fmt.Errorf("%w: %s: value is nil", ErrSchema, s.Name())
		}
		v = r
	case T:
		v = &r
	case json.RawMessage:
		decoded, err := s.decode(r)
		if err != nil {
			return nil, err
		}
		v = decoded
	case []byte:
		decoded, err := s.decode(r)
		if err != nil {
			return nil, err
		}
		v = decoded
	case map[string]any:
		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrSchema, s.Name(), err)
		}
		decoded, err := s.decode(data)
		if err != nil {
			return nil, err
		}
		v = decoded
	default:
		return nil, fmt.Errorf("%w: %s: unexpected value of type %T", ErrSchema, s.Name(), raw)
	}

	if err := s.check(v); err != nil {
		return nil, err
	}

	return v, nil
}

// Encode serializes v after validating it.
func (s *TypedSchema[T]) Encode(v any) ([]byte, error) {
	checked, err := s.Validate(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(checked)
}

// Decode parses and validates JSON data.
func (s *TypedSchema[T]) Decode(data []byte) (any, error) {
	return s.Validate(json.RawMessage(data))
}

func (s *TypedSchema[T]) decode(data []byte) (*T, error) {
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSchema, s.Name(), err)
	}
	return v, nil
}

func (s *TypedSchema[T]) check(v *T) error {
	if s.typ.Elem().Kind() != reflect.Struct {
		return nil
	}

	if err := validatorInstance().Struct(v); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrSchema, s.Name(), describeValidationError(err))
	}

	return nil
}

// describeValidationError flattens every field error into one message.
func describeValidationError(err error) string {
	ves, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}

	parts := make([]string, 0, len(ves))
	for _, fe := range ves {
		parts = append(parts, fmt.Sprintf("%s failed '%s'", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
