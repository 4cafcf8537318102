package validation

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// Validator tags registered on the shared validator.
const (
	TagSafeString     = "safe_string"
	TagSQLSafe        = "sql_safe"
	TagSafePath       = "safe_path"
	TagUsername       = "username"
	TagStrongPassword = "strong_password"
	TagPhone          = "phone"
)

// DefaultFragmentMaxLength bounds safe_string and sql_safe values.
const DefaultFragmentMaxLength = 255

const passwordSpecials = "@$!%*?&"

var (
	unsafeStringPattern = regexp.MustCompile(`(?i)<script|javascript:|vbscript:|onload=`)
	unsafeSQLPattern    = regexp.MustCompile(`(?i)(\b(SELECT|INSERT|UPDATE|DELETE|DROP)\b|--|#|/\*)`)
	usernamePattern     = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	phonePattern        = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)
)

var fragmentMessages = map[string]string{
	TagSafeString:     "String contains potentially malicious content",
	TagSQLSafe:        "String contains potentially malicious SQL content",
	TagSafePath:       "Path contains directory traversal or null bytes",
	TagUsername:       "Username must be 3-50 characters of letters, numbers, underscores, and hyphens",
	TagStrongPassword: "Password must be 8-128 characters with at least one lowercase letter, one uppercase letter, one number, and one special character",
	TagPhone:          "Invalid phone number format",
}

func fragmentError(tag string) error {
	return errors.New(fragmentMessages[tag])
}

// CheckSafeString rejects strings over 255 characters or containing script markers.
func CheckSafeString(s string) error {
	if utf8.RuneCountInString(s) > DefaultFragmentMaxLength || unsafeStringPattern.MatchString(s) {
		return fragmentError(TagSafeString)
	}
	return nil
}

// CheckSQLSafe rejects strings over 255 characters or containing SQL keywords or comment markers.
func CheckSQLSafe(s string) error {
	if utf8.RuneCountInString(s) > DefaultFragmentMaxLength || unsafeSQLPattern.MatchString(s) {
		return fragmentError(TagSQLSafe)
	}
	return nil
}

// CheckSafePath rejects directory traversal sequences and NUL bytes.
func CheckSafePath(s string) error {
	if strings.Contains(s, "../") || strings.Contains(s, `..\`) || strings.ContainsRune(s, 0) {
		return fragmentError(TagSafePath)
	}
	return nil
}

// CheckUsername accepts 3 to 50 letters, digits, underscores and hyphens.
func CheckUsername(s string) error {
	if len(s) < 3 || len(s) > 50 || !usernamePattern.MatchString(s) {
		return fragmentError(TagUsername)
	}
	return nil
}

// CheckStrongPassword requires 8 to 128 characters including a lowercase
// letter, an uppercase letter, a digit and one of @$!%*?&.
func CheckStrongPassword(s string) error {
	n := utf8.RuneCountInString(s)
	if n < 8 || n > 128 {
		return fragmentError(TagStrongPassword)
	}

	var lower, upper, digit, special bool
	for _, r := range s {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		}
	}
	if !lower || !upper || !digit || !special {
		return fragmentError(TagStrongPassword)
	}
	return nil
}

// CheckPhone accepts E.164-style numbers with an optional leading plus.
func CheckPhone(s string) error {
	if !phonePattern.MatchString(s) {
		return fragmentError(TagPhone)
	}
	return nil
}

var fragmentChecks = map[string]func(string) error{
	TagSafeString:     CheckSafeString,
	TagSQLSafe:        CheckSQLSafe,
	TagSafePath:       CheckSafePath,
	TagUsername:       CheckUsername,
	TagStrongPassword: CheckStrongPassword,
	TagPhone:          CheckPhone,
}

var (
	sharedValidate     *validator.Validate
	sharedValidateOnce sync.Once
)

// Validate returns the process-wide tag validator. Field names in errors
// are JSON names, and the fragment tags are registered alongside the
// built-in ones (uuid, ip, email, ...).
func Validate() *validator.Validate {
	sharedValidateOnce.Do(func() {
		sharedValidate = newValidate()
	})
	return sharedValidate
}

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, ok := jsonFieldName(f)
		if !ok {
			return "-"
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	for tag, check := range fragmentChecks {
		// registration only fails for empty tags or nil funcs
		_ = v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			field := fl.Field()
			if field.Kind() != reflect.String {
				return false
			}
			return check(field.String()) == nil
		})
	}
	return v
}
