package runjson

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"healthwatch/internal/logger"
	"healthwatch/pkg/models"
)

// Writer appends run records to a JSON lines audit file.
type Writer struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewWriter opens path for appending, creating parent directories as needed.
func NewWriter(path string) (*Writer, error) {
	if path == "" {
		return nil, fmt.Errorf("run log path is empty")
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create run log directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}

	logger.Infof("Run log writer initialized: %s", path)
	return &Writer{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// WriteRun appends one record.
func (w *Writer) WriteRun(run models.RunRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("run log is closed")
	}
	if err := w.encoder.Encode(run); err != nil {
		return fmt.Errorf("failed to encode run %s: %w", run.ID, err)
	}
	return nil
}

// Close closes the output file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
