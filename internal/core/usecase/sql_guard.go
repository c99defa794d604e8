package usecase

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/nurturingai/leadnurture/internal/core/domain"
)

var (
	sqlWordPattern = regexp.MustCompile(`[A-Za-z_]+`)
	sqlFencePrefix = regexp.MustCompile("```sql\n?")
	sqlFence       = regexp.MustCompile("```\n?")
)

var forbiddenSQLKeywords = map[string]bool{
	"INSERT":   true,
	"UPDATE":   true,
	"DELETE":   true,
	"DROP":     true,
	"ALTER":    true,
	"CREATE":   true,
	"TRUNCATE": true,
	"GRANT":    true,
	"REVOKE":   true,
	"ATTACH":   true,
	"DETACH":   true,
	"PRAGMA":   true,
	"VACUUM":   true,
	"MERGE":    true,
	"COPY":     true,
	"CALL":     true,
	"EXEC":     true,
	"EXECUTE":  true,
	"INTO":     true,
}

// cleanGeneratedSQL removes markdown code fences around model output.
func cleanGeneratedSQL(raw string) string {
	out := sqlFencePrefix.ReplaceAllString(strings.TrimSpace(raw), "")
	out = sqlFence.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}

// GuardSelectOnly accepts a single SELECT (or WITH ... SELECT) statement and
// returns it without the trailing semicolon.
func GuardSelectOnly(statement string) (string, error) {
	const op = "guard select only"

	masked := maskSQL(statement)
	body := strings.TrimRight(strings.TrimSpace(masked), "; \t\r\n")
	if body == "" {
		return "", domain.WrapError(domain.ErrUnsafeSQL, op, errors.New("empty statement"))
	}
	if strings.Contains(body, ";") {
		return "", domain.WrapError(domain.ErrUnsafeSQL, op, errors.New("multiple statements"))
	}

	words := sqlWordPattern.FindAllString(body, -1)
	if len(words) == 0 {
		return "", domain.WrapError(domain.ErrUnsafeSQL, op, errors.New("no statement keyword"))
	}
	first := strings.ToUpper(words[0])
	if first != "SELECT" && first != "WITH" {
		return "", domain.WrapError(domain.ErrUnsafeSQL, op, fmt.Errorf("statement starts with %s", first))
	}
	for _, word := range words {
		upper := strings.ToUpper(word)
		if forbiddenSQLKeywords[upper] {
			return "", domain.WrapError(domain.ErrUnsafeSQL, op, fmt.Errorf("forbidden keyword %s", upper))
		}
	}

	return strings.TrimRight(strings.TrimSpace(statement), "; \t\r\n"), nil
}

// maskSQL blanks out string literals, quoted identifiers and comments so that
// keyword checks only see statement structure. E'...' literals honor
// backslash escapes and $tag$ bodies are masked up to the matching tag.
func maskSQL(statement string) string {
	src := []rune(statement)
	out := make([]rune, len(src))
	copy(out, src)

	for i := 0; i < len(src); i++ {
		switch {
		case src[i] == '\'' || src[i] == '"':
			quote := src[i]
			backslashEscapes := quote == '\'' && isEscapeStringPrefix(src, i)
			j := i + 1
			for j < len(src) {
				if backslashEscapes && src[j] == '\\' && j+1 < len(src) {
					out[j], out[j+1] = ' ', ' '
					j += 2
					continue
				}
				if src[j] == quote {
					if j+1 < len(src) && src[j+1] == quote {
						out[j], out[j+1] = ' ', ' '
						j += 2
						continue
					}
					break
				}
				out[j] = ' '
				j++
			}
			i = j
		case src[i] == '$' && (i == 0 || !isSQLIdentRune(src[i-1])):
			tag := dollarQuoteTag(src, i)
			if tag == "" {
				continue
			}
			tagLen := len([]rune(tag))
			start := i + tagLen
			rest := string(src[start:])
			stop := len(src)
			if end := strings.Index(rest, tag); end >= 0 {
				stop = start + len([]rune(rest[:end]))
			}
			for j := start; j < stop; j++ {
				out[j] = ' '
			}
			i = stop + tagLen - 1
		case src[i] == '-' && i+1 < len(src) && src[i+1] == '-':
			for i < len(src) && src[i] != '\n' {
				out[i] = ' '
				i++
			}
		case src[i] == '/' && i+1 < len(src) && src[i+1] == '*':
			out[i], out[i+1] = ' ', ' '
			i += 2
			for i < len(src) && !(src[i] == '*' && i+1 < len(src) && src[i+1] == '/') {
				out[i] = ' '
				i++
			}
			if i < len(src) {
				out[i], out[i+1] = ' ', ' '
				i++
			}
		}
	}
	return string(out)
}

// isEscapeStringPrefix reports whether the quote at i opens an E'...' literal.
func isEscapeStringPrefix(src []rune, i int) bool {
	if i == 0 || (src[i-1] != 'E' && src[i-1] != 'e') {
		return false
	}
	return i == 1 || !isSQLIdentRune(src[i-2])
}

// dollarQuoteTag returns the opening $tag$ at i, or "" when there is none.
func dollarQuoteTag(src []rune, i int) string {
	for j := i + 1; j < len(src); j++ {
		switch {
		case src[j] == '$':
			return string(src[i : j+1])
		case src[j] == '_' || unicode.IsLetter(src[j]):
		case unicode.IsDigit(src[j]) && j > i+1:
		default:
			return ""
		}
	}
	return ""
}

func isSQLIdentRune(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
