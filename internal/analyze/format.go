package analyze

import (
	"fmt"
	"io"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// NewPrinter returns the printer reports use for grouped numbers.
func NewPrinter() *message.Printer {
	return message.NewPrinter(language.English)
}

// FormatLength renders a cycle count as seconds, then days and a clock time
// with microseconds, then the leftover cycles below a microsecond.
func FormatLength(p *message.Printer, cfg Config, cycles uint64) string {
	rate := uint64(cfg.Pipes) * cfg.Freq
	perMicro := max(rate/1_000_000, 1)
	secs := cycles / rate
	return p.Sprintf("%d", secs) + fmt.Sprintf(" seconds (%d %02d:%02d:%02d.%06d + %3d)",
		secs/86400,
		secs/3600%24,
		secs/60%60,
		secs%60,
		cycles/perMicro%1_000_000,
		cycles%perMicro,
	)
}

// WriteSessions writes one line per non-empty session and a total.
func WriteSessions(w io.Writer, p *message.Printer, rep *Report) error {
	for _, s := range rep.Sessions {
		for _, ch := range s.Empty {
			if _, err := fmt.Fprintf(w, "Channel %s empty\n", ch); err != nil {
				return err
			}
		}
		if s.Cycles == 0 {
			continue
		}
		started := "before first session"
		if s.Start != 0 {
			started = time.Unix(s.Start, 0).UTC().Format(time.DateTime)
		}
		if _, err := fmt.Fprintf(w, "Session %s: %s\n", started, FormatLength(p, rep.Config, s.Cycles)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "Total: %s\n", FormatLength(p, rep.Config, rep.Total))
	return err
}

// WriteRanking writes one line per segment: clock, pipe letter, gap and
// log-probability.
func WriteRanking(w io.Writer, segs []Segment) error {
	for _, s := range segs {
		if _, err := fmt.Fprintf(w, "%16d [%c] %11d %f\n", s.Clock, 'A'+rune(s.Pipe), s.Gap, s.LogProb); err != nil {
			return err
		}
	}
	return nil
}

// WriteVerification writes the result of one segment check, including any
// lost distinguished points.
func WriteVerification(w io.Writer, v Verification) error {
	for _, in := range v.Interior {
		if _, err := fmt.Fprintf(w, "R %d %d %s\n", in.Clock, in.Pipe, in.Digest); err != nil {
			return err
		}
	}
	s := v.Segment
	if v.OK {
		_, err := fmt.Fprintf(w, "Verified %d %s\n", s.Clock, s.Channel)
		return err
	}
	_, err := fmt.Fprintf(w, "FAILED %d %s after %d iterations\nGot %s\nExp %s\n",
		s.Clock, s.Channel, s.Gap, v.Got, s.Digest)
	return err
}
