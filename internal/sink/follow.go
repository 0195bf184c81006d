package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Follow decodes every line of path into T and calls fn, then keeps polling for appended
// lines until ctx is cancelled. Lines that fail to decode are passed to onBad when non-nil.
func Follow[T any](ctx context.Context, path string, poll time.Duration, fn func(T), onBad func(line []byte, err error)) error {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("follow %s: %w", path, err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	var partial []byte
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			partial = append(partial, line...)
		}
		if err == nil {
			emit(partial, fn, onBad)
			partial = partial[:0]
			continue
		}
		if !errors.Is(err, io.EOF) {
			return fmt.Errorf("follow %s: %w", path, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(poll):
		}
	}
}

func emit[T any](line []byte, fn func(T), onBad func([]byte, error)) {
	if len(line) > 0 && line[len(line)-1] == '\n' {
		line = line[:len(line)-1]
	}
	if len(line) == 0 {
		return
	}
	var v T
	if err := json.Unmarshal(line, &v); err != nil {
		if onBad != nil {
			onBad(line, err)
		}
		return
	}
	fn(v)
}
