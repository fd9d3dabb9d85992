package pipeline_test

import (
	"testing"

	"healthwatch/internal/pipeline"
	"healthwatch/pkg/models"
)

func TestMultiChangeWriterTriesEveryWriter(t *testing.T) {
	failing := &recordingChanges{fail: true}
	ok := &recordingChanges{}
	multi := pipeline.MultiChangeWriter{failing, ok}

	err := multi.WriteChanges([]models.Alert{{ExternalID: "a"}}, nil, nil)
	if err == nil {
		t.Fatalf("expected joined error from failing writer")
	}
	if len(failing.created) != 1 || len(ok.created) != 1 {
		t.Fatalf("every writer should receive the batch: %d %d", len(failing.created), len(ok.created))
	}
	if err := multi.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
