package r2s3

import (
	"context"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Stats struct {
	QueueDepth    int
	Enqueued      uint64
	Dropped       uint64
	Uploaded      uint64
	Failed        uint64
	LastSuccessAt int64
	LastErrorAt   int64
}

type job struct {
	key  string
	body []byte
}

// Backup copies registry snapshot generations and completed audit files to
// the bucket. File contents are read at enqueue time, so a snapshot that is
// replaced right after a save still uploads the generation that was saved.
type Backup struct {
	client *Client
	prefix string
	log    *log.Logger
	now    func() time.Time

	jobs        chan job
	enqueueWait time.Duration
	wg          sync.WaitGroup

	enqueued    atomic.Uint64
	dropped     atomic.Uint64
	uploaded    atomic.Uint64
	failed      atomic.Uint64
	lastSuccess atomic.Int64
	lastError   atomic.Int64
}

func NewBackup(client *Client, prefix string, queue int, logger *log.Logger) *Backup {
	if queue <= 0 {
		queue = 64
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	b := &Backup{
		client:      client,
		prefix:      strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		log:         logger,
		now:         func() time.Time { return time.Now().UTC() },
		jobs:        make(chan job, queue),
		enqueueWait: 25 * time.Millisecond,
	}
	b.wg.Add(1)
	go b.loop()
	return b
}

// Snapshot queues the current contents of a registry snapshot under a
// timestamped key: <prefix>/registry/<name>-<YYYYMMDDTHHMMSSZ><ext>.
func (b *Backup) Snapshot(localPath string) {
	if b == nil {
		return
	}
	base := filepath.Base(localPath)
	ext := ""
	if i := strings.Index(base, "."); i > 0 {
		base, ext = base[:i], base[i:]
	}
	key := path.Join(b.prefix, "registry", base+"-"+b.now().UTC().Format("20060102T150405Z")+ext)
	b.enqueueFile(key, localPath)
}

// AuditFile queues a completed audit file under <prefix>/audit/<name>.
func (b *Backup) AuditFile(localPath string) {
	if b == nil {
		return
	}
	b.enqueueFile(path.Join(b.prefix, "audit", filepath.Base(localPath)), localPath)
}

func (b *Backup) enqueueFile(key, localPath string) {
	body, err := os.ReadFile(localPath)
	if err != nil {
		b.log.Printf("backup skip local=%s err=%v", localPath, err)
		return
	}
	b.enqueued.Add(1)
	select {
	case b.jobs <- job{key: key, body: body}:
		return
	default:
	}
	timer := time.NewTimer(b.enqueueWait)
	defer timer.Stop()
	select {
	case b.jobs <- job{key: key, body: body}:
	case <-timer.C:
		n := b.dropped.Add(1)
		b.log.Printf("backup drop key=%s reason=queue_full dropped_total=%d", key, n)
	}
}

// Close waits for every queued upload to finish.
func (b *Backup) Close() {
	if b == nil {
		return
	}
	close(b.jobs)
	b.wg.Wait()
}

func (b *Backup) Stats() Stats {
	if b == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(b.jobs),
		Enqueued:      b.enqueued.Load(),
		Dropped:       b.dropped.Load(),
		Uploaded:      b.uploaded.Load(),
		Failed:        b.failed.Load(),
		LastSuccessAt: b.lastSuccess.Load(),
		LastErrorAt:   b.lastError.Load(),
	}
}

func (b *Backup) loop() {
	defer b.wg.Done()
	for j := range b.jobs {
		if err := b.putWithRetry(j); err != nil {
			b.failed.Add(1)
			b.lastError.Store(time.Now().Unix())
			b.log.Printf("backup upload failed key=%s err=%v", j.key, err)
			continue
		}
		b.uploaded.Add(1)
		b.lastSuccess.Store(time.Now().Unix())
		b.log.Printf("backup uploaded key=%s bytes=%d", j.key, len(j.body))
	}
}

func (b *Backup) putWithRetry(j job) error {
	const maxAttempts = 4
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := b.client.Put(ctx, j.key, j.body, "application/zstd")
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt*attempt) * 200 * time.Millisecond)
		}
	}
	return lastErr
}
