package persist

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"firestige.xyz/meter/internal/config"
	"firestige.xyz/meter/internal/log"
)

// JSONL writes one JSON envelope per line to a size-rotated file.
type JSONL struct {
	out io.WriteCloser
	buf *bufio.Writer
	enc *json.Encoder
}

// NewJSONL opens a rotated task log. The file is created on first write.
func NewJSONL(cfg config.JSONLSinkConfig) *JSONL {
	return newJSONL(log.NewRotatingWriter(cfg.Path, cfg.Rotation))
}

func newJSONL(w io.WriteCloser) *JSONL {
	buf := bufio.NewWriter(w)
	return &JSONL{out: w, buf: buf, enc: json.NewEncoder(buf)}
}

func (j *JSONL) Name() string { return "jsonl" }

func (j *JSONL) Write(_ context.Context, batch []Envelope) error {
	for _, env := range batch {
		if err := j.enc.Encode(env); err != nil {
			return fmt.Errorf("persist: encode %s: %w", env.Kind, err)
		}
	}
	return j.buf.Flush()
}

func (j *JSONL) Close() error {
	if err := j.buf.Flush(); err != nil {
		j.out.Close()
		return err
	}
	return j.out.Close()
}
