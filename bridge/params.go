package bridge

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrParameterCount = errors.New("bridge: parameter count does not match placeholders")
	ErrParameterType  = errors.New("bridge: unsupported parameter type")
)

// Interpolate replaces each ? outside quoted text, quoted identifiers and
// comments with the SQL literal of the matching parameter.
func Interpolate(query string, params []any) (string, error) {
	if len(params) == 0 {
		return query, nil
	}

	var b strings.Builder
	next := 0
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'' || ch == '"' || ch == '`':
			end := closingQuote(query, i, ch)
			b.WriteString(query[i:end])
			i = end - 1
		case ch == '[':
			end := closingQuote(query, i, ']')
			b.WriteString(query[i:end])
			i = end - 1
		case ch == '-' && i+1 < len(query) && query[i+1] == '-':
			end := strings.IndexByte(query[i:], '\n')
			if end < 0 {
				end = len(query) - i
			}
			b.WriteString(query[i : i+end])
			i += end - 1
		case ch == '/' && i+1 < len(query) && query[i+1] == '*':
			end := strings.Index(query[i+2:], "*/")
			if end < 0 {
				end = len(query)
			} else {
				end = i + 2 + end + 2
			}
			b.WriteString(query[i:end])
			i = end - 1
		case ch == '?':
			if next >= len(params) {
				return "", fmt.Errorf("%w: more than %d placeholders", ErrParameterCount, len(params))
			}
			literal, err := sqlLiteral(params[next])
			if err != nil {
				return "", fmt.Errorf("parameter %d: %w", next+1, err)
			}
			b.WriteString(literal)
			next++
		default:
			b.WriteByte(ch)
		}
	}
	if next != len(params) {
		return "", fmt.Errorf("%w: %d placeholders for %d parameters", ErrParameterCount, next, len(params))
	}
	return b.String(), nil
}

// closingQuote returns the index just past the literal starting at start.
// A doubled quote character is an escaped quote.
func closingQuote(query string, start int, quote byte) int {
	for i := start + 1; i < len(query); i++ {
		if query[i] != quote {
			continue
		}
		if i+1 < len(query) && query[i+1] == quote {
			i++
			continue
		}
		return i + 1
	}
	return len(query)
}

func sqlLiteral(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "NULL", nil
	case string:
		return quote(v), nil
	case []byte:
		return "0x" + strings.ToUpper(hex.EncodeToString(v)), nil
	case bool:
		if v {
			return "1", nil
		}
		return "0", nil
	case int:
		return strconv.FormatInt(int64(v), 10), nil
	case int8:
		return strconv.FormatInt(int64(v), 10), nil
	case int16:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float32:
		return formatFloat(float64(v), 32)
	case float64:
		return formatFloat(v, 64)
	case time.Time:
		return quote(v.Format("2006-01-02T15:04:05.000Z07:00")), nil
	}
	return "", fmt.Errorf("%w %T", ErrParameterType, value)
}

func formatFloat(f float64, bits int) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%w: %v has no SQL literal", ErrParameterType, f)
	}
	return strconv.FormatFloat(f, 'g', -1, bits), nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
