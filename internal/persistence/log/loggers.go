package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"villagecraft.ai/internal/plan/fill"
)

// JSONLZstdWriter appends JSON lines to hourly zstd-compressed files named
// <prefix>-<YYYY-MM-DD-HH>.jsonl.zst under baseDir. OnRotate, if set, gets
// the path of every file once it is complete.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	OnRotate func(path string)

	mu      sync.Mutex
	curHour string
	curPath string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// Flush pushes buffered lines into the compressor. Lines become readable
// once the file is closed or rotated.
func (w *JSONLZstdWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	w.curPath = path
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var first error
	if w.w != nil {
		first = w.w.Flush()
	}
	if w.enc != nil {
		if err := w.enc.Close(); err != nil && first == nil {
			first = err
		}
		w.enc = nil
	}
	if w.f != nil {
		if err := w.f.Close(); err != nil && first == nil {
			first = err
		}
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	if w.curPath != "" && first == nil && w.OnRotate != nil {
		w.OnRotate(w.curPath)
	}
	w.curPath = ""
	return first
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// PrimitiveEntry is one audit line: a primitive as it was handed to the
// executor channel.
type PrimitiveEntry struct {
	Seq      uint64 `json:"seq"`
	Village  string `json:"village,omitempty"`
	Min      [3]int `json:"min"`
	Max      [3]int `json:"max"`
	Material string `json:"material"`
	Volume   int64  `json:"volume"`
}

// AuditChannel forwards every primitive to Next and records it. A failed
// audit write never blocks the build; the first error is kept for Err.
type AuditChannel struct {
	Next    fill.Channel
	Village string

	w   *JSONLZstdWriter
	mu  sync.Mutex
	seq uint64
	err error
}

func NewAuditChannel(dir string, next fill.Channel) *AuditChannel {
	return &AuditChannel{Next: next, w: NewJSONLZstdWriter(dir, "primitives")}
}

func (c *AuditChannel) Submit(p fill.Primitive) {
	c.mu.Lock()
	c.seq++
	e := PrimitiveEntry{
		Seq:      c.seq,
		Village:  c.Village,
		Min:      [3]int{p.Box.MinX, p.Box.MinY, p.Box.MinZ},
		Max:      [3]int{p.Box.MaxX, p.Box.MaxY, p.Box.MaxZ},
		Material: p.Material,
		Volume:   p.Volume(),
	}
	if err := c.w.Write(e); err != nil && c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	if c.Next != nil {
		c.Next.Submit(p)
	}
}

func (c *AuditChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Writer exposes the underlying file writer, e.g. to hook rotation.
func (c *AuditChannel) Writer() *JSONLZstdWriter { return c.w }

func (c *AuditChannel) Close() error { return c.w.Close() }

// ReadEntries decodes every audit file in dir in name order.
func ReadEntries(dir string) ([]PrimitiveEntry, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "primitives-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	var out []PrimitiveEntry
	for _, p := range paths {
		es, err := readFile(p)
		if err != nil {
			return out, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, es...)
	}
	return out, nil
}

func readFile(path string) ([]PrimitiveEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []PrimitiveEntry
	jd := json.NewDecoder(dec)
	for {
		var e PrimitiveEntry
		if err := jd.Decode(&e); err == io.EOF {
			return out, nil
		} else if err != nil {
			return out, err
		}
		out = append(out, e)
	}
}
