package pii

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	detectors "github.com/hannes/docguard/pii/detectors"
)

// ModelManager manages the entity model lifecycle with thread-safe hot
// reload capability.
type ModelManager struct {
	mu              sync.RWMutex
	currentDetector detectors.Detector
	modelDirectory  string
	isHealthy       bool
	lastError       error
}

// ModelConfig holds paths to required model files
type ModelConfig struct {
	ModelPath     string
	TokenizerPath string
	LabelMapPath  string
}

// NewModelManager creates a new model manager and initializes with the given directory
func NewModelManager(directory string) (*ModelManager, error) {
	mm := &ModelManager{
		modelDirectory: directory,
		isHealthy:      false,
	}

	// Initial load failure leaves the manager unhealthy but usable; the
	// service degrades to pattern-only detection until a reload succeeds.
	if err := mm.ReloadModel(directory); err != nil {
		log.Printf("[ModelManager] Warning: Failed to load initial model: %v", err)
		log.Printf("[ModelManager] Model manager created but marked as unhealthy")
	}

	return mm, nil
}

// GetDetector returns the current detector in a thread-safe manner
func (mm *ModelManager) GetDetector() (detectors.Detector, error) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	if !mm.isHealthy {
		return nil, fmt.Errorf("model is unhealthy: %w", mm.lastError)
	}

	if mm.currentDetector == nil {
		return nil, fmt.Errorf("no detector available")
	}

	return mm.currentDetector, nil
}

// ReloadModel reloads the model from the specified directory with validation
func (mm *ModelManager) ReloadModel(newDirectory string) error {
	log.Printf("[ModelManager] Reloading model from directory: %s", newDirectory)

	config, err := mm.validateDirectory(newDirectory)
	if err != nil {
		mm.mu.Lock()
		mm.isHealthy = false
		mm.lastError = err
		mm.mu.Unlock()
		log.Printf("[ModelManager] Directory validation failed: %v", err)
		return fmt.Errorf("validation failed: %w", err)
	}

	// Load outside the lock to minimize blocking.
	log.Printf("[ModelManager] Loading new detector from: %s", config.ModelPath)
	newDetector, err := detectors.NewONNXNERDetector(
		config.ModelPath,
		config.TokenizerPath,
		config.LabelMapPath,
	)
	if err != nil {
		mm.mu.Lock()
		mm.isHealthy = false
		mm.lastError = err
		mm.mu.Unlock()
		log.Printf("[ModelManager] Failed to load model: %v", err)
		return fmt.Errorf("failed to load model: %w", err)
	}

	// Smoke inference before the swap.
	log.Printf("[ModelManager] Running validation inference")
	testInput := detectors.DetectorInput{Text: "담당자 김철수 연락처 010-1234-5678"}
	_, err = newDetector.Detect(context.Background(), testInput)
	if err != nil {
		if closeErr := newDetector.Close(); closeErr != nil {
			log.Printf("[ModelManager] Warning: failed to close failed detector: %v", closeErr)
		}

		mm.mu.Lock()
		mm.isHealthy = false
		mm.lastError = err
		mm.mu.Unlock()
		log.Printf("[ModelManager] Model validation inference failed: %v", err)
		return fmt.Errorf("model validation failed: %w", err)
	}

	mm.mu.Lock()
	oldDetector := mm.currentDetector
	mm.currentDetector = newDetector
	mm.modelDirectory = newDirectory
	mm.isHealthy = true
	mm.lastError = nil
	mm.mu.Unlock()

	log.Printf("[ModelManager] Model swap completed successfully")

	// Close the old detector outside the lock.
	if oldDetector != nil {
		log.Printf("[ModelManager] Closing old detector")
		if err := oldDetector.Close(); err != nil {
			log.Printf("[ModelManager] Warning: failed to close old detector: %v", err)
		}
	}

	log.Printf("[ModelManager] Model reload complete for directory: %s", newDirectory)
	return nil
}

// IsHealthy returns whether the current model is healthy
func (mm *ModelManager) IsHealthy() bool {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.isHealthy
}

// GetLastError returns the last error encountered (if any)
func (mm *ModelManager) GetLastError() error {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.lastError
}

// GetInfo returns information about the current model state
func (mm *ModelManager) GetInfo() map[string]interface{} {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	info := map[string]interface{}{
		"directory": mm.modelDirectory,
		"healthy":   mm.isHealthy,
	}

	if mm.lastError != nil {
		info["error"] = mm.lastError.Error()
	} else {
		info["error"] = nil
	}

	return info
}

// validateDirectory checks that the directory exists and contains all required files
func (mm *ModelManager) validateDirectory(dir string) (*ModelConfig, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("directory does not exist: %s", dir)
		}
		return nil, fmt.Errorf("failed to access directory: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", dir)
	}

	requiredFiles := []string{
		"model_quantized.onnx",
		"tokenizer.json",
		"label_mappings.json",
	}

	var missingFiles []string
	for _, filename := range requiredFiles {
		fullPath := filepath.Join(dir, filename)
		if _, err := os.Stat(fullPath); os.IsNotExist(err) {
			missingFiles = append(missingFiles, filename)
		}
	}

	if len(missingFiles) > 0 {
		return nil, fmt.Errorf("missing required files in directory: %v", missingFiles)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		absDir = dir
	}

	config := &ModelConfig{
		ModelPath:     filepath.Join(absDir, "model_quantized.onnx"),
		TokenizerPath: filepath.Join(absDir, "tokenizer.json"),
		LabelMapPath:  filepath.Join(absDir, "label_mappings.json"),
	}

	log.Printf("[ModelManager] Validated directory: %s", absDir)
	return config, nil
}

// Close closes the current detector and cleans up resources
func (mm *ModelManager) Close() error {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if mm.currentDetector != nil {
		log.Printf("[ModelManager] Closing current detector")
		if err := mm.currentDetector.Close(); err != nil {
			return fmt.Errorf("failed to close detector: %w", err)
		}
		mm.currentDetector = nil
	}

	mm.isHealthy = false
	return nil
}
