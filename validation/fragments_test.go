package validation

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

func TestFragmentChecks(t *testing.T) {
	tests := []struct {
		name  string
		check func(string) error
		input string
		valid bool
	}{
		{"safe string plain", CheckSafeString, "hello world", true},
		{"safe string script", CheckSafeString, "<SCRIPT>", false},
		{"safe string onload", CheckSafeString, "x onload=y", false},
		{"safe string too long", CheckSafeString, strings.Repeat("a", 256), false},
		{"safe string at limit", CheckSafeString, strings.Repeat("a", 255), true},

		{"sql safe plain", CheckSQLSafe, "order 42", true},
		{"sql safe keyword", CheckSQLSafe, "select name", false},
		{"sql safe comment", CheckSQLSafe, "a -- b", false},
		{"sql safe hash", CheckSQLSafe, "#tag", false},
		{"sql safe block comment", CheckSQLSafe, "a /* b", false},

		{"safe path relative", CheckSafePath, "docs/file.txt", true},
		{"safe path traversal", CheckSafePath, "../etc/passwd", false},
		{"safe path windows traversal", CheckSafePath, `..\windows`, false},
		{"safe path nul", CheckSafePath, "a\x00b", false},

		{"username valid", CheckUsername, "jane_doe-1", true},
		{"username too short", CheckUsername, "ab", false},
		{"username too long", CheckUsername, strings.Repeat("a", 51), false},
		{"username space", CheckUsername, "jane doe", false},

		{"password valid", CheckStrongPassword, "Passw0rd!", true},
		{"password no upper", CheckStrongPassword, "passw0rd!", false},
		{"password no digit", CheckStrongPassword, "Password!", false},
		{"password no special", CheckStrongPassword, "Passw0rdX", false},
		{"password too short", CheckStrongPassword, "Pa0!", false},
		{"password too long", CheckStrongPassword, "Pa0!" + strings.Repeat("x", 125), false},

		{"phone e164", CheckPhone, "+14155552671", true},
		{"phone digits", CheckPhone, "12", true},
		{"phone leading zero", CheckPhone, "0123456", false},
		{"phone too short", CheckPhone, "+1", false},
		{"phone letters", CheckPhone, "+1-415-555", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.check(tt.input)
			if (err == nil) != tt.valid {
				t.Errorf("check(%q) error = %v, want valid %v", tt.input, err, tt.valid)
			}
		})
	}
}

type account struct {
	ID       string `json:"id,omitempty" validate:"omitempty,uuid"`
	Username string `json:"username" validate:"required,username"`
	Password string `json:"password" validate:"required,strong_password"`
	Phone    string `json:"phone,omitempty" validate:"omitempty,phone"`
	Home     string `json:"home,omitempty" validate:"omitempty,safe_path"`
	Secret   string `json:"-"`
}

func TestStructSchema_FragmentTags(t *testing.T) {
	schema := NewStructSchema[account]()

	_, err := schema.Parse(context.Background(), map[string]any{
		"id":       "not-a-uuid",
		"username": "ab",
		"password": "weak",
		"phone":    "012",
		"home":     "../root",
	})
	se, ok := err.(*SchemaError)
	if !ok {
		t.Fatalf("Parse() error = %v, want *SchemaError", err)
	}

	want := []string{
		"id: must be a valid UUID",
		"username: " + fragmentMessages[TagUsername],
		"password: " + fragmentMessages[TagStrongPassword],
		"phone: " + fragmentMessages[TagPhone],
		"home: " + fragmentMessages[TagSafePath],
	}
	if !reflect.DeepEqual(se.Messages(), want) {
		t.Errorf("Messages() = %v, want %v", se.Messages(), want)
	}

	got, err := schema.Parse(context.Background(), []byte(`{"username":"jane_doe","password":"Passw0rd!","phone":"+14155552671"}`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if acc := got.(account); acc.Username != "jane_doe" || acc.Phone != "+14155552671" {
		t.Errorf("Parse() = %+v", acc)
	}
}

func TestStructSchema_DecodeErrors(t *testing.T) {
	schema := NewStructSchema[account]()

	tests := []struct {
		name  string
		input any
		want  []string
	}{
		{name: "nil", input: nil, want: []string{"value is required"}},
		{name: "nil pointer", input: (*account)(nil), want: []string{"value is required"}},
		{name: "malformed JSON", input: []byte(`{"username":`), want: []string{"invalid JSON"}},
		{name: "wrong type", input: map[string]any{"username": true}, want: []string{"username: expected string"}},
		{name: "unencodable", input: map[string]any{"username": make(chan int)}, want: []string{"value is not valid JSON"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := schema.Parse(context.Background(), tt.input)
			se, ok := err.(*SchemaError)
			if !ok {
				t.Fatalf("Parse() error = %v, want *SchemaError", err)
			}
			if !reflect.DeepEqual(se.Messages(), tt.want) {
				t.Errorf("Messages() = %v, want %v", se.Messages(), tt.want)
			}
		})
	}
}

func TestStructSchema_NonStruct(t *testing.T) {
	schema := NewStructSchema[[]string]()
	got, err := schema.Parse(context.Background(), []any{"a", "b"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Parse() = %v", got)
	}
}

func TestSchemaError_Error(t *testing.T) {
	err := &SchemaError{Issues: []Issue{{Path: "a.b", Message: "is required"}, {Message: "invalid JSON"}}}
	if got := err.Error(); got != "schema validation failed: a.b: is required; invalid JSON" {
		t.Errorf("Error() = %q", got)
	}
}
