package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema parses and validates raw input into the value the caller works with.
//
// Parse returns a *SchemaError when the input does not have the expected
// shape. Any other error is treated as a failure of the validator itself.
type Schema interface {
	Parse(ctx context.Context, input any) (any, error)
}

// SchemaFunc adapts a plain function to Schema.
type SchemaFunc func(ctx context.Context, input any) (any, error)

// Parse calls f(ctx, input).
func (f SchemaFunc) Parse(ctx context.Context, input any) (any, error) {
	return f(ctx, input)
}

// Any accepts every input unchanged.
func Any() Schema {
	return SchemaFunc(func(_ context.Context, input any) (any, error) {
		return input, nil
	})
}

// Issue is one schema violation.
type Issue struct {
	// Path locates the offending value, e.g. "items[0].name". Empty for the root.
	Path    string
	Message string
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// SchemaError reports input that does not match its schema.
type SchemaError struct {
	Issues []Issue
}

func (e *SchemaError) Error() string {
	return "schema validation failed: " + strings.Join(e.Messages(), "; ")
}

// Messages returns the issues as "path: message" strings.
func (e *SchemaError) Messages() []string {
	out := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		out = append(out, issue.String())
	}
	return out
}

func schemaError(path, message string) *SchemaError {
	return &SchemaError{Issues: []Issue{{Path: path, Message: message}}}
}

// StructSchema decodes input into T and validates it with go-playground
// validator tags, including the fragment tags registered by this package.
type StructSchema[T any] struct {
	validate *validator.Validate
}

// NewStructSchema returns a schema for T using the shared tag validator.
func NewStructSchema[T any]() *StructSchema[T] {
	return &StructSchema[T]{validate: Validate()}
}

// Parse accepts a T, a *T, JSON bytes or any JSON-encodable value (such as
// map[string]any) and returns the decoded T.
func (s *StructSchema[T]) Parse(ctx context.Context, input any) (any, error) {
	value, err := decodeInto[T](input)
	if err != nil {
		return nil, err
	}

	rv := reflect.ValueOf(&value).Elem()
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, schemaError("", "value is required")
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return value, nil
	}

	if err := s.validate.StructCtx(ctx, rv.Addr().Interface()); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, fromValidationErrors(verrs)
		}
		return nil, fmt.Errorf("failed to validate struct: %w", err)
	}
	return value, nil
}

func decodeInto[T any](input any) (T, error) {
	var value T
	switch in := input.(type) {
	case T:
		return in, nil
	case *T:
		if in == nil {
			return value, schemaError("", "value is required")
		}
		return *in, nil
	case []byte:
		return value, decodeJSON(in, &value)
	case json.RawMessage:
		return value, decodeJSON(in, &value)
	case nil:
		return value, schemaError("", "value is required")
	}

	raw, err := json.Marshal(input)
	if err != nil {
		return value, schemaError("", "value is not valid JSON")
	}
	return value, decodeJSON(raw, &value)
}

func decodeJSON(raw []byte, out any) error {
	err := json.Unmarshal(raw, out)
	if err == nil {
		return nil
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return schemaError(typeErr.Field, "expected "+jsonTypeName(typeErr.Type))
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return schemaError("", "invalid JSON")
	}
	return schemaError("", err.Error())
}

func jsonTypeName(t reflect.Type) string {
	switch indirectType(t).Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	}
	return t.String()
}

func fromValidationErrors(verrs validator.ValidationErrors) *SchemaError {
	se := &SchemaError{Issues: make([]Issue, 0, len(verrs))}
	for _, fe := range verrs {
		// Namespace is "Type.field.sub[0]"; drop the root type name.
		_, path, _ := strings.Cut(fe.Namespace(), ".")
		se.Issues = append(se.Issues, Issue{Path: path, Message: tagMessage(fe)})
	}
	return se
}

func tagMessage(fe validator.FieldError) string {
	if msg, ok := fragmentMessages[fe.Tag()]; ok {
		return msg
	}
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param() + lengthUnit(fe)
	case "max":
		return "must be at most " + fe.Param() + lengthUnit(fe)
	case "len":
		return "must be exactly " + fe.Param() + lengthUnit(fe)
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "uuid", "uuid4":
		return "must be a valid UUID"
	case "ip":
		return "must be a valid IP address"
	case "oneof":
		return "must be one of: " + fe.Param()
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}

func lengthUnit(fe validator.FieldError) string {
	switch fe.Kind() {
	case reflect.String:
		return " characters"
	case reflect.Slice, reflect.Array, reflect.Map:
		return " items"
	}
	return ""
}

// JSONSchema validates input against a compiled JSON Schema document.
type JSONSchema struct {
	schema *jsonschema.Schema
}

// CompileJSONSchema compiles doc (draft 2020-12 unless doc says otherwise)
// under the resource name name.
func CompileJSONSchema(name string, doc []byte) (*JSONSchema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(name, bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return &JSONSchema{schema: schema}, nil
}

// MustCompileJSONSchema is like CompileJSONSchema but panics on error.
func MustCompileJSONSchema(name string, doc []byte) *JSONSchema {
	s, err := CompileJSONSchema(name, doc)
	if err != nil {
		panic(err)
	}
	return s
}

// Parse normalizes input to its generic JSON form (maps, slices, float64)
// and validates it. The normalized value is returned.
func (s *JSONSchema) Parse(_ context.Context, input any) (any, error) {
	var raw []byte
	switch in := input.(type) {
	case []byte:
		raw = in
	case json.RawMessage:
		raw = in
	default:
		b, err := json.Marshal(input)
		if err != nil {
			return nil, schemaError("", "value is not valid JSON")
		}
		raw = b
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, schemaError("", "invalid JSON")
	}

	if err := s.schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			se := &SchemaError{}
			collectLeafCauses(verr, se)
			return nil, se
		}
		return nil, fmt.Errorf("failed to validate against schema: %w", err)
	}
	return doc, nil
}

func collectLeafCauses(verr *jsonschema.ValidationError, se *SchemaError) {
	if len(verr.Causes) == 0 {
		se.Issues = append(se.Issues, Issue{
			Path:    pointerToPath(verr.InstanceLocation),
			Message: verr.Message,
		})
		return
	}
	for _, cause := range verr.Causes {
		collectLeafCauses(cause, se)
	}
}

// pointerToPath turns a JSON pointer such as /items/0/name into items[0].name.
func pointerToPath(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return ""
	}
	var path string
	for _, tok := range strings.Split(ptr, "/") {
		tok = strings.ReplaceAll(strings.ReplaceAll(tok, "~1", "/"), "~0", "~")
		if i, err := strconv.Atoi(tok); err == nil && i >= 0 {
			path = indexPath(path, i)
			continue
		}
		path = fieldPath(path, tok)
	}
	return path
}
