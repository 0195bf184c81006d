package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type row struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

func TestJSONLAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "signals.jsonl")

	s, err := NewJSONL[row](path, Rotation{})
	if err != nil {
		t.Fatalf("NewJSONL error: %v", err)
	}
	if err := s.Append(row{Symbol: "SOLUSDT", Price: 100}); err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if err := s.Append(row{Symbol: "SOLUSDT", Price: 101}); err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := s.Append(row{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open sink file: %v", err)
	}
	defer file.Close()

	var got []row
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var r row
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("json decode: %v", err)
		}
		got = append(got, r)
	}
	if len(got) != 2 || got[1].Price != 101 {
		t.Fatalf("unexpected rows %+v", got)
	}
}

func TestMemorySnapshotReset(t *testing.T) {
	m := NewMemory[row](2)
	_ = m.Append(row{Symbol: "BTCUSDT"})

	snap := m.Snapshot()
	if len(snap) != 1 || snap[0].Symbol != "BTCUSDT" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	snap[0].Symbol = "mutated"
	if m.Snapshot()[0].Symbol != "BTCUSDT" {
		t.Fatalf("snapshot must be a copy")
	}
	m.Reset()
	if m.Len() != 0 {
		t.Fatalf("expected reset")
	}
}

func TestFollowReadsExistingAndAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	if err := os.WriteFile(path, []byte("{\"symbol\":\"A\",\"price\":1}\nnot-json\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []row
	var bad int
	done := make(chan error, 1)
	go func() {
		done <- Follow(ctx, path, 10*time.Millisecond, func(r row) {
			mu.Lock()
			got = append(got, r)
			mu.Unlock()
		}, func([]byte, error) {
			mu.Lock()
			bad++
			mu.Unlock()
		})
	}()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	_, _ = f.WriteString("{\"symbol\":\"B\",\"price\":2}\n")
	_ = f.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Follow error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0].Symbol != "A" || got[1].Symbol != "B" {
		t.Fatalf("unexpected followed rows %+v", got)
	}
	if bad != 1 {
		t.Fatalf("expected 1 bad line, got %d", bad)
	}
}

func TestFollowMissingFile(t *testing.T) {
	err := Follow(context.Background(), filepath.Join(t.TempDir(), "missing"), 0, func(row) {}, nil)
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}
