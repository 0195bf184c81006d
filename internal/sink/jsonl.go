// Package sink provides append-only destinations for signals and lifecycle events.
package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ErrClosed is returned when appending to a closed sink.
var ErrClosed = errors.New("sink closed")

// Rotation controls when the backing file is rolled over.
type Rotation struct {
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

// JSONL appends one JSON object per line to a rotating file.
type JSONL[T any] struct {
	mu  sync.Mutex
	out *lumberjack.Logger
	enc *json.Encoder
}

// NewJSONL creates the parent directory and opens path for appending.
func NewJSONL[T any](path string, rot Rotation) (*JSONL[T], error) {
	if path == "" {
		return nil, errors.New("sink path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sink dir: %w", err)
	}
	if rot.MaxSizeMB <= 0 {
		rot.MaxSizeMB = 100
	}
	out := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rot.MaxSizeMB,
		MaxBackups: rot.MaxBackups,
		MaxAge:     rot.MaxAgeDays,
		Compress:   rot.Compress,
	}
	return &JSONL[T]{out: out, enc: json.NewEncoder(out)}, nil
}

// Append writes v as a single line.
func (s *JSONL[T]) Append(v T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return ErrClosed
	}
	if err := s.enc.Encode(v); err != nil {
		return fmt.Errorf("append jsonl: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (s *JSONL[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return nil
	}
	err := s.out.Close()
	s.out = nil
	return err
}
