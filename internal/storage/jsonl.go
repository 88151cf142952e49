package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"liquidityVault/internal/model"
)

// JSONLStorage appends records to a JSONL file.
type JSONLStorage struct {
	path string
	mu   sync.Mutex
}

func NewJSONLStorage(path string) *JSONLStorage {
	return &JSONLStorage{path: path}
}

// Truncate empties the file so a run starts from a clean output.
func (s *JSONLStorage) Truncate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureDir(); err != nil {
		return err
	}
	if err := os.WriteFile(s.path, nil, 0o644); err != nil {
		return fmt.Errorf("truncate output file: %w", err)
	}
	return nil
}

func (s *JSONLStorage) PutReceipts(_ context.Context, receipts []model.ReceiptRecord) error {
	return s.appendLines(len(receipts), func(i int) interface{} { return receipts[i] })
}

func (s *JSONLStorage) PutRejections(_ context.Context, rejections []model.Rejection) error {
	return s.appendLines(len(rejections), func(i int) interface{} { return rejections[i] })
}

func (s *JSONLStorage) PutEvents(_ context.Context, events []model.TypedEvent) error {
	return s.appendLines(len(events), func(i int) interface{} { return events[i] })
}

func (s *JSONLStorage) PutLogs(_ context.Context, logs []model.LogRecord) error {
	return s.appendLines(len(logs), func(i int) interface{} { return logs[i] })
}

func (s *JSONLStorage) appendLines(n int, at func(int) interface{}) error {
	if n == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureDir(); err != nil {
		return err
	}
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for i := 0; i < n; i++ {
		line, err := json.Marshal(at(i))
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

func (s *JSONLStorage) ensureDir() error {
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	return nil
}

// ScanJSONL calls fn for every non-blank line. lineNo starts at 1.
func ScanJSONL(r io.Reader, fn func(lineNo int, line []byte) error) error {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(lineNo, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan input: %w", err)
	}
	return nil
}
