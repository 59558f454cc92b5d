package supervisor

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/loykin/backendvisor/internal/metrics"
)

// Stream names used as the "stream" log attribute and metric label.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// maxLineBytes caps one relayed line. Longer lines are cut at this size and
// the rest of the line is dropped; relaying continues with the next line.
const maxLineBytes = 1 << 20

// relay forwards each line of r to the logger: stdout at info, stderr at
// error. It ends when the stream closes. A read failure is logged and the
// rest of the stream is discarded so the backend never blocks on a full pipe.
func (s *Supervisor) relay(p *supervised, r io.Reader, stream string, capture io.Writer) {
	defer p.relays.Done()
	level := slog.LevelInfo
	if stream == StreamStderr {
		level = slog.LevelError
	}
	ctx := context.Background()
	emit := func(line []byte, truncated bool) {
		attrs := []any{"backend", s.name, "stream", stream, "pid", p.pid}
		if truncated {
			attrs = append(attrs, "truncated", true)
		}
		s.log.Log(ctx, level, string(line), attrs...)
		metrics.IncOutputLine(s.name, stream)
		if capture != nil {
			if _, err := capture.Write(append(line, '\n')); err != nil {
				s.log.Warn("backend output capture failed", "backend", s.name, "stream", stream, "error", err)
				capture = nil
			}
		}
	}

	br := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	truncated := false
	for {
		// ReadLine strips "\n" and "\r\n"; a long line arrives in fragments
		frag, more, err := br.ReadLine()
		if err != nil {
			if len(line) > 0 || truncated {
				emit(line, truncated)
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.log.Warn("backend output relay failed", "backend", s.name, "stream", stream, "error", err)
				_, _ = io.Copy(io.Discard, r)
			}
			return
		}
		if room := maxLineBytes - len(line); len(frag) > room {
			frag = frag[:room]
			truncated = true
		}
		line = append(line, frag...)
		if more {
			continue
		}
		emit(line, truncated)
		line = line[:0]
		truncated = false
	}
}
