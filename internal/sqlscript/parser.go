// Package sqlscript splits PostgreSQL scripts into individual statements.
// It understands line and block comments, single-quoted strings, and
// dollar-quoted bodies, so DDL files containing PL/pgSQL functions and DO
// blocks can be executed statement by statement through a driver that does
// not accept multi-statement input.
package sqlscript

import "strings"

// Parse splits script into executable statements. Comments are stripped,
// quoted and dollar-quoted text is preserved verbatim (including semicolons
// and comment markers inside it), and empty statements are dropped.
func Parse(script string) []string {
	script = strings.ReplaceAll(script, "\r\n", "\n")
	script = strings.ReplaceAll(script, "\r", "\n")

	var (
		statements []string
		buf        strings.Builder
	)
	flush := func() {
		stmt := strings.TrimSpace(buf.String())
		buf.Reset()
		if stmt != "" {
			statements = append(statements, stmt)
		}
	}

	i := 0
	for i < len(script) {
		c := script[i]
		switch {
		case c == '-' && i+1 < len(script) && script[i+1] == '-':
			i = skipLineComment(script, i)
		case c == '/' && i+1 < len(script) && script[i+1] == '*':
			i = skipBlockComment(script, i)
		case c == '\'':
			i = copyQuoted(&buf, script, i)
		case c == '$':
			if tag := dollarTag(script, i); tag != "" {
				i = copyDollarQuoted(&buf, script, i, tag)
			} else {
				buf.WriteByte(c)
				i++
			}
		case c == ';':
			flush()
			i++
		default:
			buf.WriteByte(c)
			i++
		}
	}
	flush()
	return statements
}

// skipLineComment advances past a -- comment up to (but not including) the
// terminating newline, so statement text stays on separate lines.
func skipLineComment(s string, i int) int {
	for i < len(s) && s[i] != '\n' {
		i++
	}
	return i
}

// skipBlockComment advances past a /* */ comment, honoring PostgreSQL's
// nested block comments.
func skipBlockComment(s string, i int) int {
	depth := 0
	for i < len(s) {
		if i+1 < len(s) && s[i] == '/' && s[i+1] == '*' {
			depth++
			i += 2
			continue
		}
		if i+1 < len(s) && s[i] == '*' && s[i+1] == '/' {
			depth--
			i += 2
			if depth == 0 {
				return i
			}
			continue
		}
		i++
	}
	return i
}

// copyQuoted copies a single-quoted string literal, treating '' as an
// escaped quote.
func copyQuoted(buf *strings.Builder, s string, i int) int {
	buf.WriteByte(s[i])
	i++
	for i < len(s) {
		buf.WriteByte(s[i])
		if s[i] == '\'' {
			if i+1 < len(s) && s[i+1] == '\'' {
				buf.WriteByte(s[i+1])
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return i
}

// dollarTag returns the full opening delimiter ("$$", "$body$", ...) if a
// dollar quote starts at i, or "" otherwise.
func dollarTag(s string, i int) string {
	j := i + 1
	for j < len(s) && (isTagChar(s[j]) || s[j] == '$') {
		if s[j] == '$' {
			return s[i : j+1]
		}
		j++
	}
	return ""
}

func isTagChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

// copyDollarQuoted copies a dollar-quoted body verbatim through its closing
// delimiter.
func copyDollarQuoted(buf *strings.Builder, s string, i int, tag string) int {
	buf.WriteString(tag)
	i += len(tag)
	for i < len(s) {
		if s[i] == '$' && strings.HasPrefix(s[i:], tag) {
			buf.WriteString(tag)
			return i + len(tag)
		}
		buf.WriteByte(s[i])
		i++
	}
	return i
}
