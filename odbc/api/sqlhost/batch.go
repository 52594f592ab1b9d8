package sqlhost

import "strings"

// splitBatch splits a batch of statements on semicolons that are outside
// quoted strings, quoted identifiers and comments. Empty statements are
// dropped.
func splitBatch(text string) []string {
	var (
		statements []string
		start      int
	)
	flush := func(end int) {
		if s := strings.TrimSpace(text[start:end]); s != "" {
			statements = append(statements, s)
		}
	}
	for i := 0; i < len(text); i++ {
		switch c := text[i]; c {
		case '\'', '"', '`':
			i = skipQuoted(text, i, c)
		case '[':
			i = skipQuoted(text, i, ']')
		case '-':
			if i+1 < len(text) && text[i+1] == '-' {
				if nl := strings.IndexByte(text[i:], '\n'); nl >= 0 {
					i += nl
				} else {
					i = len(text)
				}
			}
		case '/':
			if i+1 < len(text) && text[i+1] == '*' {
				if end := strings.Index(text[i+2:], "*/"); end >= 0 {
					i += end + 3
				} else {
					i = len(text)
				}
			}
		case ';':
			flush(i)
			start = i + 1
		}
	}
	if start < len(text) {
		flush(len(text))
	}
	return statements
}

// skipQuoted returns the index of the quote closing the one at i. A
// doubled closing quote is an escape.
func skipQuoted(text string, i int, closing byte) int {
	for j := i + 1; j < len(text); j++ {
		if text[j] != closing {
			continue
		}
		if j+1 < len(text) && text[j+1] == closing {
			j++
			continue
		}
		return j
	}
	return len(text)
}

// returnsRows reports whether a statement produces a result set.
func returnsRows(statement string) bool {
	s := strings.TrimLeft(stripLeadingComments(statement), "( \t\r\n")
	word := s
	if i := strings.IndexAny(s, " \t\r\n("); i >= 0 {
		word = s[:i]
	}
	switch strings.ToUpper(word) {
	case "SELECT", "WITH", "VALUES", "PRAGMA", "EXPLAIN", "SHOW", "EXEC", "EXECUTE":
		return true
	}
	return false
}

func stripLeadingComments(s string) string {
	for {
		s = strings.TrimSpace(s)
		switch {
		case strings.HasPrefix(s, "--"):
			nl := strings.IndexByte(s, '\n')
			if nl < 0 {
				return ""
			}
			s = s[nl+1:]
		case strings.HasPrefix(s, "/*"):
			end := strings.Index(s, "*/")
			if end < 0 {
				return ""
			}
			s = s[end+2:]
		default:
			return s
		}
	}
}
