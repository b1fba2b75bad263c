package snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"villagecraft.ai/internal/plan/registry"
)

const Version = 1

type Header struct {
	Version  int       `json:"version"`
	Villages int       `json:"villages"`
	SavedAt  time.Time `json:"saved_at"`
}

// DocumentV1 is the registry document stored after the header line.
type DocumentV1 struct {
	Header   Header             `json:"header"`
	Villages []registry.Village `json:"villages"`
}

func WriteSnapshot(path string, doc DocumentV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := writeTo(f, doc); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeTo(f *os.File, doc DocumentV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(doc.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := json.NewEncoder(bw).Encode(&doc); err != nil {
		_ = enc.Close()
		return fmt.Errorf("json encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// ReadHeader decodes only the leading header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

func ReadSnapshot(path string) (DocumentV1, error) {
	var doc DocumentV1
	f, err := os.Open(path)
	if err != nil {
		return doc, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return doc, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The document repeats the header; the line only serves ReadHeader.
	if _, err := br.ReadBytes('\n'); err != nil {
		return doc, fmt.Errorf("read header: %w", err)
	}
	if err := json.NewDecoder(br).Decode(&doc); err != nil {
		return doc, fmt.Errorf("json decode: %w", err)
	}
	if doc.Header.Version != Version {
		return doc, fmt.Errorf("unsupported snapshot version %d", doc.Header.Version)
	}
	return doc, nil
}

// Store keeps the registry in a single compressed snapshot file. A missing
// file loads as an empty registry. OnSave runs after every successful write.
type Store struct {
	Path   string
	Now    func() time.Time
	OnSave func(path string)
}

func NewStore(path string) *Store {
	return &Store{Path: path, Now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) LoadVillages(ctx context.Context) ([]registry.Village, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := ReadSnapshot(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", s.Path, err)
	}
	return doc.Villages, nil
}

func (s *Store) SaveVillages(ctx context.Context, villages []registry.Village) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if villages == nil {
		villages = []registry.Village{}
	}
	doc := DocumentV1{
		Header:   Header{Version: Version, Villages: len(villages), SavedAt: s.Now()},
		Villages: villages,
	}
	if err := WriteSnapshot(s.Path, doc); err != nil {
		return err
	}
	if s.OnSave != nil {
		s.OnSave(s.Path)
	}
	return nil
}
