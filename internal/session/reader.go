package session

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"strings"
)

// Diagnostic describes a log line that was skipped.
type Diagnostic struct {
	Line int
	Text string
	Err  error
}

// Reader yields the records of a log, skipping lines it cannot decode.
//
// Every skipped line produces a Diagnostic and a warning on the default
// logger; a damaged log never stops a replay.
type Reader struct {
	sc    *bufio.Scanner
	line  int
	diags []Diagnostic
}

// NewReader reads records from r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	return &Reader{sc: sc}
}

// Next returns the next decodable record, or io.EOF at the end of input.
// Other errors come from the underlying reader.
func (r *Reader) Next() (Record, error) {
	for r.sc.Scan() {
		r.line++
		text := r.sc.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		rec, err := Parse(text)
		if err != nil {
			r.diags = append(r.diags, Diagnostic{Line: r.line, Text: text, Err: err})
			if errors.Is(err, ErrUnknownRecord) {
				slog.Warn("ignoring unknown log record", "line", r.line, "error", err)
			} else {
				slog.Warn("skipping bogus log record", "line", r.line, "error", err)
			}
			continue
		}
		return rec, nil
	}
	if err := r.sc.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Diagnostics returns every line skipped so far.
func (r *Reader) Diagnostics() []Diagnostic {
	return r.diags
}

// Lines returns the number of lines consumed so far.
func (r *Reader) Lines() int {
	return r.line
}

// ReadAll decodes every record in r.
func ReadAll(r io.Reader) ([]Record, []Diagnostic, error) {
	rd := NewReader(r)
	var out []Record
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return out, rd.Diagnostics(), nil
		}
		if err != nil {
			return out, rd.Diagnostics(), err
		}
		out = append(out, rec)
	}
}
