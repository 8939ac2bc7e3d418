package repair

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/spigell/doc-reviewer/internal/utils"

	"gopkg.in/yaml.v3"
)

const excerptLimit = 200

// Stage names the pass that produced a successful parse.
type Stage string

const (
	StageStrict     Stage = "strict"
	StageLenient    Stage = "lenient"
	StageAggressive Stage = "aggressive"
)

var (
	ErrNoObject = errors.New("no json object found")

	fencePattern = regexp.MustCompile("```[A-Za-z0-9_-]*")
)

// ParseError reports text that could not be turned into an object.
type ParseError struct {
	Excerpt string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse model response: %v (excerpt: %q)", e.Err, e.Excerpt)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Repair extracts a JSON object from semi structured model output. Passes run
// in order: fence stripping, object bounding, baseline fixes (trailing commas
// and single quotes), strict parse, lenient yaml parse and finally a quoting
// pass for bare keys and values followed by one more strict parse.
func Repair(raw string) (map[string]any, Stage, error) {
	fail := func(err error) (map[string]any, Stage, error) {
		return nil, "", &ParseError{Excerpt: utils.TruncateForLog(raw, excerptLimit), Err: err}
	}

	body, ok := Bound(StripFences(raw))
	if !ok {
		return fail(ErrNoObject)
	}

	fixed := Baseline(body)

	var payload map[string]any
	strictErr := json.Unmarshal([]byte(fixed), &payload)
	if strictErr == nil && payload != nil {
		return payload, StageStrict, nil
	}

	payload = nil
	if err := yaml.Unmarshal([]byte(fixed), &payload); err == nil && payload != nil && !hasPhantomKeys(payload, fixed) {
		return payload, StageLenient, nil
	}

	payload = nil
	if err := json.Unmarshal([]byte(QuoteBare(fixed)), &payload); err != nil {
		return fail(fmt.Errorf("%w; after quoting bare values: %v", strictErr, err))
	}
	if payload == nil {
		return fail(ErrNoObject)
	}

	return payload, StageAggressive, nil
}

// hasPhantomKeys reports whether yaml turned part of an unquoted value into a
// key of its own: "reason": good, thorough yields thorough: null.
func hasPhantomKeys(v any, src string) bool {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if val == nil && !declaresKey(src, k) {
				return true
			}
			if hasPhantomKeys(val, src) {
				return true
			}
		}
	case map[any]any:
		for k, val := range t {
			if val == nil && !declaresKey(src, fmt.Sprint(k)) {
				return true
			}
			if hasPhantomKeys(val, src) {
				return true
			}
		}
	case []any:
		for _, item := range t {
			if hasPhantomKeys(item, src) {
				return true
			}
		}
	}
	return false
}

func declaresKey(src, key string) bool {
	return regexp.MustCompile(regexp.QuoteMeta(key) + `["']?\s*:`).MatchString(src)
}

// StripFences removes markdown code fences with an optional language tag.
func StripFences(raw string) string {
	return strings.TrimSpace(fencePattern.ReplaceAllString(raw, ""))
}

// Bound returns the text between the first '{' and the last '}' inclusive.
func Bound(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return "", false
	}
	return s[start : end+1], true
}

// Baseline drops trailing commas and converts single quoted strings to double
// quoted ones. Content of double quoted strings is never touched.
func Baseline(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	var prev byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			end := skipString(s, i)
			b.WriteString(s[i:end])
			i = end - 1
		case '\'':
			if !opensValue(prev) {
				b.WriteByte(c)
				break
			}
			i = writeSingleQuoted(&b, s, i)
		case ',':
			if next := nextSignificant(s, i+1); next == '}' || next == ']' {
				continue
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}

		if !isSpace(c) {
			prev = s[i]
		}
	}

	return b.String()
}

// QuoteBare wraps bare object keys and bare scalar values in double quotes.
// Numbers, booleans and null are left as they are.
func QuoteBare(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 32)

	stack := make([]byte, 0, 8)
	expectKey, expectValue := false, false

	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '"':
			end := skipString(s, i)
			b.WriteString(s[i:end])
			i = end
			expectKey, expectValue = false, false
			continue
		case c == '{':
			stack = append(stack, c)
			expectKey, expectValue = true, false
		case c == '[':
			stack = append(stack, c)
			expectKey, expectValue = false, true
		case c == '}' || c == ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			expectKey, expectValue = false, false
		case c == ',':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				expectKey, expectValue = true, false
			} else {
				expectKey, expectValue = false, true
			}
		case c == ':':
			expectKey, expectValue = false, true
		case isSpace(c):
		default:
			if expectKey || expectValue {
				end := bareEnd(s, i, expectKey)
				token := strings.TrimSpace(s[i:end])
				if expectValue && isLiteral(token) {
					b.WriteString(token)
				} else {
					quoted, _ := json.Marshal(token)
					b.Write(quoted)
				}
				i = end
				expectKey, expectValue = false, false
				continue
			}
		}

		b.WriteByte(c)
		i++
	}

	return b.String()
}

var jsonNumber = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

func isLiteral(token string) bool {
	switch token {
	case "true", "false", "null":
		return true
	}
	return jsonNumber.MatchString(token)
}

func bareEnd(s string, i int, key bool) int {
	for ; i < len(s); i++ {
		switch s[i] {
		case ',', '}', ']', '\n':
			return i
		case ':':
			if key {
				return i
			}
		}
	}
	return i
}

// skipString returns the index just past the double quoted string at s[i].
func skipString(s string, i int) int {
	escaped := false
	for j := i + 1; j < len(s); j++ {
		switch {
		case escaped:
			escaped = false
		case s[j] == '\\':
			escaped = true
		case s[j] == '"':
			return j + 1
		}
	}
	return len(s)
}

// writeSingleQuoted converts the single quoted string at s[i] and returns the
// index of its closing quote.
func writeSingleQuoted(b *strings.Builder, s string, i int) int {
	b.WriteByte('"')
	for j := i + 1; j < len(s); j++ {
		c := s[j]
		switch {
		case c == '\\' && j+1 < len(s):
			if s[j+1] == '\'' {
				b.WriteByte('\'')
			} else {
				b.WriteByte(c)
				b.WriteByte(s[j+1])
			}
			j++
		case c == '"':
			b.WriteString(`\"`)
		case c == '\'':
			b.WriteByte('"')
			return j
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return len(s) - 1
}

func opensValue(prev byte) bool {
	switch prev {
	case 0, '{', '[', ',', ':':
		return true
	}
	return false
}

func nextSignificant(s string, i int) byte {
	for ; i < len(s); i++ {
		if !isSpace(s[i]) {
			return s[i]
		}
	}
	return 0
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
