package storage

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	ErrJournalClosed = errors.New("journal is closed")
	ErrJournalFull   = errors.New("journal buffer full")
)

const defaultJournalBuffer = 1024

// Journal appends records as JSON lines to <dir>/<UTC date>/readings.jsonl.
// Writes are queued and flushed by a single goroutine; files rotate on date
// change and on size through lumberjack.
type Journal struct {
	dir       string
	maxSizeMB int
	maxAge    int
	now       func() time.Time

	writeCh chan any
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once

	// closeMu orders Write's enqueue against Close so no accepted record
	// lands after the final drain.
	closeMu sync.RWMutex
	closed  bool

	mu          sync.Mutex
	currentDate string
	logger      *lumberjack.Logger
}

// NewJournal starts a journal rooted at dir. maxSizeMB bounds each file
// before rotation and maxAgeDays bounds how long rotated files are kept.
func NewJournal(dir string, maxSizeMB, maxAgeDays int) *Journal {
	return newJournal(dir, maxSizeMB, maxAgeDays, defaultJournalBuffer, time.Now)
}

func newJournal(dir string, maxSizeMB, maxAgeDays, bufferSize int, now func() time.Time) *Journal {
	j := &Journal{
		dir:       dir,
		maxSizeMB: maxSizeMB,
		maxAge:    maxAgeDays,
		now:       now,
		writeCh:   make(chan any, bufferSize),
		done:      make(chan struct{}),
	}
	j.wg.Add(1)
	go j.writeLoop()
	return j
}

// Write queues a record. It never blocks; a full buffer drops the record.
func (j *Journal) Write(record any) error {
	j.closeMu.RLock()
	defer j.closeMu.RUnlock()
	if j.closed {
		return ErrJournalClosed
	}
	select {
	case j.writeCh <- record:
		return nil
	default:
		slog.Warn("journal buffer full, dropping record", "dir", j.dir)
		return ErrJournalFull
	}
}

// Close stops the writer, flushes queued records and closes the file.
func (j *Journal) Close() error {
	var err error
	j.once.Do(func() {
		j.closeMu.Lock()
		j.closed = true
		close(j.done)
		j.closeMu.Unlock()
		j.wg.Wait()

		for len(j.writeCh) > 0 {
			j.writeRecord(<-j.writeCh)
		}

		j.mu.Lock()
		defer j.mu.Unlock()
		if j.logger != nil {
			err = j.logger.Close()
			j.logger = nil
		}
	})
	return err
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()

	for {
		select {
		case record := <-j.writeCh:
			j.writeRecord(record)
		case <-j.done:
			return
		}
	}
}

func (j *Journal) writeRecord(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("journal marshal failed", "error", err)
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	date := j.now().UTC().Format("2006-01-02")
	if date != j.currentDate || j.logger == nil {
		if err := j.rotateForDate(date); err != nil {
			slog.Error("journal rotate failed", "error", err, "dir", j.dir)
			return
		}
	}

	if _, err := j.logger.Write(append(data, '\n')); err != nil {
		slog.Error("journal write failed", "error", err)
	}
}

// rotateForDate requires j.mu held.
func (j *Journal) rotateForDate(date string) error {
	if j.logger != nil {
		if err := j.logger.Close(); err != nil {
			slog.Debug("journal close failed", "error", err)
		}
		j.logger = nil
	}

	dir := filepath.Join(j.dir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	filename := filepath.Join(dir, "readings.jsonl")
	j.logger = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    j.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     j.maxAge,
		Compress:   true,
		LocalTime:  false,
	}
	j.currentDate = date
	slog.Info("journal file opened", "file", filename)
	return nil
}
