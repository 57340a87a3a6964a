package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type record struct {
	Seq int `json:"seq"`
}

func readLines(t *testing.T, path string) []record {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()

	var out []record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestJournalWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	j := newJournal(dir, 1, 1, 16, func() time.Time { return day })

	for i := 1; i <= 3; i++ {
		if err := j.Write(record{Seq: i}); err != nil {
			t.Fatalf("Write(%d) error = %v", i, err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got := readLines(t, filepath.Join(dir, "2025-03-14", "readings.jsonl"))
	if len(got) != 3 {
		t.Fatalf("lines = %d; want 3", len(got))
	}
	for i, r := range got {
		if r.Seq != i+1 {
			t.Fatalf("line %d seq = %d; want %d", i, r.Seq, i+1)
		}
	}
}

func TestJournalRotatesOnDateChange(t *testing.T) {
	dir := t.TempDir()
	var mu sync.Mutex
	now := time.Date(2025, 3, 14, 23, 59, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	j := newJournal(dir, 1, 1, 16, clock)

	if err := j.Write(record{Seq: 1}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(filepath.Join(dir, "2025-03-14", "readings.jsonl")); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for first journal file")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	if err := j.Write(record{Seq: 2}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := readLines(t, filepath.Join(dir, "2025-03-15", "readings.jsonl")); len(got) != 1 || got[0].Seq != 2 {
		t.Fatalf("second day lines = %+v; want seq 2", got)
	}
}

func TestJournalWriteAfterClose(t *testing.T) {
	j := newJournal(t.TempDir(), 1, 1, 4, time.Now)
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := j.Write(record{Seq: 1}); !errors.Is(err, ErrJournalClosed) {
		t.Fatalf("Write() after Close error = %v; want ErrJournalClosed", err)
	}
}

func TestJournalKeepsEveryAcceptedRecordAcrossClose(t *testing.T) {
	for run := 0; run < 20; run++ {
		dir := t.TempDir()
		day := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
		j := newJournal(dir, 1, 1, 4096, func() time.Time { return day })

		var accepted atomic.Int32
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					if err := j.Write(record{Seq: w*100 + i}); err == nil {
						accepted.Add(1)
					}
				}
			}(w)
		}
		time.Sleep(time.Millisecond)
		if err := j.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		wg.Wait()

		path := filepath.Join(dir, "2025-03-14", "readings.jsonl")
		var lines int
		if _, err := os.Stat(path); err == nil {
			lines = len(readLines(t, path))
		}
		if int32(lines) != accepted.Load() {
			t.Fatalf("run %d: lines = %d; want %d accepted writes", run, lines, accepted.Load())
		}
	}
}
