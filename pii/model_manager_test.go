package pii

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestModelManager_MissingDirectoryIsUnhealthy(t *testing.T) {
	mm, err := NewModelManager("/nonexistent/model/dir")
	if err != nil {
		t.Fatalf("NewModelManager should not fail outright: %v", err)
	}
	defer func() {
		if err := mm.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	}()

	if mm.IsHealthy() {
		t.Error("Expected manager to be unhealthy for a missing directory")
	}
	if mm.GetLastError() == nil {
		t.Error("Expected a recorded load error")
	}
	if _, err := mm.GetDetector(); err == nil {
		t.Error("Expected GetDetector to fail while unhealthy")
	}
}

func TestModelManager_ReloadRejectsIncompleteDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tokenizer.json"), []byte("{}"), 0644); err != nil {
		t.Fatalf("Failed to write tokenizer file: %v", err)
	}

	mm := &ModelManager{}
	err := mm.ReloadModel(dir)
	if err == nil {
		t.Fatal("Expected reload to fail for an incomplete directory")
	}
	if !strings.Contains(err.Error(), "model_quantized.onnx") {
		t.Errorf("Expected missing file in error, got %v", err)
	}
	if mm.IsHealthy() {
		t.Error("Expected manager to stay unhealthy after a failed reload")
	}
}

func TestModelManager_GetInfo(t *testing.T) {
	mm, err := NewModelManager("/nonexistent/model/dir")
	if err != nil {
		t.Fatalf("NewModelManager failed: %v", err)
	}
	defer mm.Close()

	info := mm.GetInfo()
	if info["directory"] != "/nonexistent/model/dir" {
		t.Errorf("Unexpected directory in info: %v", info["directory"])
	}
	if info["healthy"] != false {
		t.Errorf("Expected healthy false, got %v", info["healthy"])
	}
	if info["error"] == nil {
		t.Error("Expected an error message in info")
	}
}
