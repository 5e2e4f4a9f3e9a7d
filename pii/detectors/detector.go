package pii

import (
	"context"
)

// Detector is the interface for model-backed entity recognizers.
type Detector interface {
	GetName() string
	Detect(ctx context.Context, input DetectorInput) (DetectorOutput, error)
	Close() error
}

func CloseDetector(detector Detector) error {
	return detector.Close()
}
