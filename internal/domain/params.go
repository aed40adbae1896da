package domain

import (
	"bytes"
	"strings"
)

// Field is one labelled text parameter in an engine control file, e.g.
// "Start Date: 01 January 2024".
type Field struct {
	Label string
	Value string
}

// RewriteFields patches labelled lines in content. A line matches a field when,
// after its leading whitespace, it starts with "<Label>:". The value after the
// colon is replaced; indentation and line endings are kept, every other line is
// returned byte-identical, and labels that never appear are ignored. The first
// field whose label matches a line wins. The returned count is the number of
// lines that matched a field.
func RewriteFields(content []byte, fields []Field) ([]byte, int) {
	if len(fields) == 0 || len(content) == 0 {
		return content, 0
	}

	var out bytes.Buffer
	out.Grow(len(content))
	changed := 0

	rest := content
	for len(rest) > 0 {
		var line []byte
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line, rest = rest[:i+1], rest[i+1:]
		} else {
			line, rest = rest, nil
		}

		patched, ok := rewriteLine(line, fields)
		if ok {
			changed++
		}
		out.Write(patched)
	}
	return out.Bytes(), changed
}

func rewriteLine(line []byte, fields []Field) ([]byte, bool) {
	body, eol := splitEOL(string(line))
	trimmed := strings.TrimLeft(body, " \t")
	indent := body[:len(body)-len(trimmed)]

	for _, f := range fields {
		prefix := f.Label + ":"
		if !strings.HasPrefix(trimmed, prefix) {
			continue
		}
		return []byte(indent + prefix + " " + f.Value + eol), true
	}
	return line, false
}

func splitEOL(s string) (string, string) {
	switch {
	case strings.HasSuffix(s, "\r\n"):
		return s[:len(s)-2], "\r\n"
	case strings.HasSuffix(s, "\n"):
		return s[:len(s)-1], "\n"
	default:
		return s, ""
	}
}
