package runjson

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"healthwatch/pkg/models"
)

func TestWriteRunAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "runs.jsonl")

	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := w.WriteRun(models.RunRecord{ID: "r1", RunAt: at, Status: models.RunSuccess, Errors: []string{}}); err != nil {
		t.Fatalf("WriteRun: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.WriteRun(models.RunRecord{ID: "late"}); err == nil {
		t.Fatalf("expected error after Close")
	}

	// reopening keeps earlier lines
	w, err = NewWriter(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := w.WriteRun(models.RunRecord{ID: "r2", Status: models.RunPartial, Errors: []string{"azure: timeout"}}); err != nil {
		t.Fatalf("WriteRun: %v", err)
	}
	w.Close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var run models.RunRecord
		if err := json.Unmarshal(sc.Bytes(), &run); err != nil {
			t.Fatalf("line is not a run record: %v", err)
		}
		ids = append(ids, run.ID)
	}
	if len(ids) != 2 || ids[0] != "r1" || ids[1] != "r2" {
		t.Fatalf("unexpected run log contents: %v", ids)
	}
}

func TestNewWriterRequiresPath(t *testing.T) {
	if _, err := NewWriter(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
