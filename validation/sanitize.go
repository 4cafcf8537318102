package validation

import (
	"reflect"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/giantswarm/guard/internal/util"
)

// SanitizeOptions control how string leaves are rewritten by Sanitize.
type SanitizeOptions struct {
	// AllowHTML keeps markup but strips scripts, event handler attributes
	// and dangerous tags. Without it every string is HTML escaped.
	AllowHTML bool

	// MaxLength truncates strings to this many runes (0 means no limit)
	MaxLength int

	// TrimWhitespace removes leading and trailing white space
	TrimWhitespace bool

	// NormalizeUnicode converts strings to NFC
	NormalizeUnicode bool

	// RemoveSuspiciousPatterns strips control, BOM, noncharacter and zero-width code points
	RemoveSuspiciousPatterns bool
}

// DefaultSanitizeOptions trims, normalizes and strips suspicious code points,
// and escapes HTML.
func DefaultSanitizeOptions() SanitizeOptions {
	return SanitizeOptions{
		TrimWhitespace:           true,
		NormalizeUnicode:         true,
		RemoveSuspiciousPatterns: true,
	}
}

// "/" is not escaped, so closing tags render as &lt;/b&gt;.
var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
	"`", "&#x60;",
	"=", "&#x3D;",
)

var (
	scriptBlockPattern     = regexp.MustCompile(`(?is)<script.*?>.*?</script>`)
	dangerousAttrPattern   = regexp.MustCompile(`(?i)\s(on\w+|javascript:|vbscript:|data:)\s*=\s*["'][^"']*["']`)
	dangerousTags          = []string{"script", "object", "embed", "iframe", "frame", "frameset", "meta", "link", "style"}
	dangerousTagPatterns   = compileTagPatterns(`(?is)<%s[^>]*>.*?</%s>`)
	selfClosingTagPatterns = compileTagPatterns(`(?i)<%s[^>]*/>`)
)

func compileTagPatterns(format string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(dangerousTags))
	for _, tag := range dangerousTags {
		out = append(out, regexp.MustCompile(strings.ReplaceAll(format, "%s", tag)))
	}
	return out
}

// SanitizeString applies opts to a single string.
func SanitizeString(s string, opts SanitizeOptions) string {
	if opts.TrimWhitespace {
		s = strings.TrimSpace(s)
	}
	if opts.NormalizeUnicode {
		s = norm.NFC.String(s)
	}
	if opts.RemoveSuspiciousPatterns {
		s = strings.Map(dropSuspicious, s)
	}
	if opts.AllowHTML {
		s = stripDangerousHTML(s)
	} else {
		s = htmlEscaper.Replace(s)
	}
	if opts.MaxLength > 0 {
		s = util.TruncateRunes(s, opts.MaxLength)
	}
	return s
}

func dropSuspicious(r rune) rune {
	switch {
	case r == '\t' || r == '\n' || r == '\r':
		return r
	case r < 0x20 || r == 0x7F:
		return -1
	case r == 0xFEFF:
		return -1
	case r >= 0x200B && r <= 0x200D:
		return -1
	case r >= 0xFFF0 && r <= 0xFFFF:
		return -1
	}
	return r
}

func stripDangerousHTML(s string) string {
	s = scriptBlockPattern.ReplaceAllString(s, "")
	s = dangerousAttrPattern.ReplaceAllString(s, "")
	for i := range dangerousTags {
		s = dangerousTagPatterns[i].ReplaceAllString(s, "")
		s = selfClosingTagPatterns[i].ReplaceAllString(s, "")
	}
	return s
}

// Sanitize returns a copy of v with every string leaf passed through
// SanitizeString. Maps, slices, arrays, pointers and exported struct fields
// are copied, so the result has the same type as v and v is left untouched.
func Sanitize(v any, opts SanitizeOptions) any {
	if v == nil {
		return nil
	}
	return sanitizeValue(reflect.ValueOf(v), opts, 0).Interface()
}

func sanitizeValue(v reflect.Value, opts SanitizeOptions, depth int) reflect.Value {
	if !v.IsValid() || depth > maxWalkDepth {
		return v
	}

	switch v.Kind() {
	case reflect.String:
		if v.Type() == jsonNumberType {
			return v
		}
		return reflect.ValueOf(SanitizeString(v.String(), opts)).Convert(v.Type())

	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(sanitizeValue(v.Elem(), opts, depth+1))
		return out

	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(sanitizeValue(v.Elem(), opts, depth+1))
		return out

	case reflect.Slice:
		if v.IsNil() || v.Type().Elem().Kind() == reflect.Uint8 {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(sanitizeValue(v.Index(i), opts, depth+1))
		}
		return out

	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(sanitizeValue(v.Index(i), opts, depth+1))
		}
		return out

	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), sanitizeValue(iter.Value(), opts, depth+1))
		}
		return out

	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		for i := 0; i < v.NumField(); i++ {
			if f := out.Field(i); f.CanSet() {
				f.Set(sanitizeValue(v.Field(i), opts, depth+1))
			}
		}
		return out
	}
	return v
}
