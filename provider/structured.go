package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DecodeJSON extracts the first JSON value from a model reply and decodes it into v.
func DecodeJSON(reply string, v any) error {
	raw, err := ExtractJSON(reply)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

// ExtractJSON finds the first balanced JSON object or array in s. Markdown
// code fences around the payload are removed first; braces inside strings are ignored.
func ExtractJSON(s string) (string, error) {
	s = trimBOM(strings.TrimSpace(s))
	if inner, ok := unfence(s); ok {
		s = strings.TrimSpace(inner)
	}
	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		if out, ok := balancedFrom(s, i); ok {
			return out, nil
		}
	}
	return "", errors.New("no balanced JSON object/array found")
}

// unfence returns the body of a leading ``` or ~~~ block, skipping the language tag.
func unfence(s string) (string, bool) {
	for _, fence := range []string{"```", "~~~"} {
		if !strings.HasPrefix(s, fence) {
			continue
		}
		rest := s[len(fence):]
		nl := strings.IndexByte(rest, '\n')
		if nl == -1 {
			return "", false
		}
		rest = rest[nl+1:]
		if end := strings.Index(rest, fence); end != -1 {
			return rest[:end], true
		}
		return rest, true
	}
	return "", false
}

func balancedFrom(s string, start int) (string, bool) {
	var (
		stack    []byte
		inString bool
		escaped  bool
	)
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				return "", false
			}
			top := stack[len(stack)-1]
			if (top == '{' && c != '}') || (top == '[' && c != ']') {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func trimBOM(s string) string {
	if strings.HasPrefix(s, "\uFEFF") {
		return strings.TrimPrefix(s, "\uFEFF")
	}
	if len(s) >= 3 && s[0] == 0xEF && s[1] == 0xBB && s[2] == 0xBF && utf8.ValidString(s[3:]) {
		return s[3:]
	}
	return s
}
