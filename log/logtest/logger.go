/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package logtest

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ssgreg/logf"

	"github.com/acronis/go-dispatch/log"
)

type entryWriter struct {
	sync.Mutex
	encoder logf.Encoder
	output  io.Writer
}

//nolint:gocritic
func (ew *entryWriter) WriteEntry(e logf.Entry) {
	ew.Lock()
	defer ew.Unlock()

	var buf logf.Buffer
	if err := ew.encoder.Encode(&buf, e); err != nil {
		_, _ = fmt.Fprint(ew.output, err)
		return
	}
	_, _ = ew.output.Write(buf.Data)
}

// Opts configures a logger returned by NewLogger.
type Opts struct {
	// Output is where JSON entries are written. Defaults to os.Stderr.
	Output io.Writer
	// Level defaults to debug.
	Level log.Level
}

// NewLogger returns a simple synchronous JSON logger.
// It may be used in tests and should never be used in production due to slow performance.
func NewLogger(opts ...Opts) log.FieldLogger {
	var o Opts
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Output == nil {
		o.Output = os.Stderr
	}
	if o.Level == "" {
		o.Level = log.LevelDebug
	}
	ew := &entryWriter{
		encoder: logf.NewJSONEncoder(logf.JSONEncoderConfig{
			EncodeTime:   logf.RFC3339NanoTimeEncoder,
			FieldKeyTime: "time",
		}),
		output: o.Output,
	}
	return (&log.LogfAdapter{Logger: logf.NewLogger(logf.LevelDebug, ew)}).WithLevel(o.Level)
}
