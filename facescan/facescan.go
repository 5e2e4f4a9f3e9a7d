// Package facescan locates human faces in collected images, filtering
// model output down to geometrically plausible detections.
package facescan

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"runtime"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/hannes/docguard/parser"
)

// Geometry limits applied to candidate face boxes.
const (
	minImageSide    = 50
	maxProcessSide  = 800
	minBoxSide      = 30
	maxBoxFrameFrac = 0.9
	minAspect       = 0.6
	maxAspect       = 1.5
	minEyeDistFrac  = 0.2
	maxEyeDistFrac  = 0.8
)

// DefaultMinConfidence is the model score floor for accepting a face.
const DefaultMinConfidence = 0.98

// Box is a face bounding box in original image coordinates.
type Box struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Point is a keypoint position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RawFace is one candidate detection from the model backend, in the
// coordinates of the image handed to the detector.
type RawFace struct {
	Box        Box
	Confidence float64
	Keypoints  map[string]Point
}

// FaceDetector is the model backend interface.
type FaceDetector interface {
	DetectFaces(img image.Image) ([]RawFace, error)
}

// Face is an accepted detection.
type Face struct {
	ImageName  string  `json:"image_name"`
	Box        Box     `json:"box"`
	Confidence float64 `json:"confidence"`
}

// Scanner runs face detection over images and documents.
type Scanner struct {
	detector      FaceDetector
	minConfidence float64
	workers       int
}

// NewScanner creates a scanner around a model backend. Zero values for
// minConfidence and workers select the defaults.
func NewScanner(detector FaceDetector, minConfidence float64, workers int) *Scanner {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	if workers <= 0 {
		workers = defaultWorkers()
	}
	return &Scanner{
		detector:      detector,
		minConfidence: minConfidence,
		workers:       workers,
	}
}

func defaultWorkers() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	return n
}

// ScanImage decodes one image and returns its plausible faces. Images
// below the minimum size are skipped outright; oversized images are
// downscaled before inference and boxes are mapped back to original
// coordinates.
func (s *Scanner) ScanImage(name string, data []byte) ([]Face, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", name, err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < minImageSide || height < minImageSide {
		return nil, nil
	}

	processed := img
	scale := 1.0
	if longest := max(width, height); longest > maxProcessSide {
		scale = float64(maxProcessSide) / float64(longest)
		processed = downscale(img, scale)
	}

	raw, err := s.detector.DetectFaces(processed)
	if err != nil {
		return nil, fmt.Errorf("face detection failed for %s: %w", name, err)
	}

	procBounds := processed.Bounds()
	var faces []Face
	for _, candidate := range raw {
		if !s.plausibleFace(candidate, procBounds.Dx(), procBounds.Dy()) {
			continue
		}
		faces = append(faces, Face{
			ImageName: name,
			Box: Box{
				X: int(float64(candidate.Box.X) / scale),
				Y: int(float64(candidate.Box.Y) / scale),
				W: int(float64(candidate.Box.W) / scale),
				H: int(float64(candidate.Box.H) / scale),
			},
			Confidence: candidate.Confidence,
		})
	}
	return faces, nil
}

// plausibleFace applies the geometric filters that cut model false
// positives on logos, icons and illustrations.
func (s *Scanner) plausibleFace(f RawFace, frameW, frameH int) bool {
	if f.Confidence < s.minConfidence {
		return false
	}

	w, h := f.Box.W, f.Box.H
	if w < minBoxSide || h < minBoxSide {
		return false
	}
	if float64(w) > maxBoxFrameFrac*float64(frameW) || float64(h) > maxBoxFrameFrac*float64(frameH) {
		return false
	}

	aspect := float64(w) / float64(h)
	if aspect < minAspect || aspect > maxAspect {
		return false
	}

	leftEye, okL := f.Keypoints["left_eye"]
	rightEye, okR := f.Keypoints["right_eye"]
	nose, okN := f.Keypoints["nose"]
	if !okL || !okR || !okN {
		return false
	}
	for _, p := range []Point{leftEye, rightEye, nose} {
		if !pointInBox(p, f.Box) {
			return false
		}
	}

	eyeDist := rightEye.X - leftEye.X
	if eyeDist < 0 {
		eyeDist = -eyeDist
	}
	if eyeDist < minEyeDistFrac*float64(w) || eyeDist > maxEyeDistFrac*float64(w) {
		return false
	}

	return true
}

func pointInBox(p Point, b Box) bool {
	return p.X >= float64(b.X) && p.X <= float64(b.X+b.W) &&
		p.Y >= float64(b.Y) && p.Y <= float64(b.Y+b.H)
}

// ScanImages scans a batch concurrently. Duplicate image payloads are
// scanned once; per-image failures are logged and skipped so one bad
// image never sinks the scan.
func (s *Scanner) ScanImages(ctx context.Context, images []parser.EmbeddedImage) []Face {
	unique := dedupImages(images)
	if len(unique) == 0 {
		return nil
	}

	jobs := make(chan parser.EmbeddedImage)
	results := make(chan []Face, len(unique))

	var wg sync.WaitGroup
	workers := s.workers
	if workers > len(unique) {
		workers = len(unique)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for img := range jobs {
				if ctx.Err() != nil {
					return
				}
				faces, err := s.ScanImage(img.Name, img.Data)
				if err != nil {
					log.Printf("FaceScan: skipping %s: %v", img.Name, err)
					continue
				}
				if len(faces) > 0 {
					results <- faces
				}
			}
		}()
	}

	for _, img := range unique {
		select {
		case <-ctx.Done():
		case jobs <- img:
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	var all []Face
	for faces := range results {
		all = append(all, faces...)
	}
	return all
}

// dedupImages drops byte-identical payloads, keeping first names. PDF
// exports in particular repeat the same image object per page.
func dedupImages(images []parser.EmbeddedImage) []parser.EmbeddedImage {
	seen := make(map[uint64]bool, len(images))
	var out []parser.EmbeddedImage
	for _, img := range images {
		h := xxhash.Sum64(img.Data)
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, img)
	}
	return out
}

// downscale resizes by nearest-neighbor sampling. Inference quality is
// insensitive to the sampling kernel at these sizes.
func downscale(img image.Image, scale float64) image.Image {
	bounds := img.Bounds()
	newW := int(float64(bounds.Dx()) * scale)
	newH := int(float64(bounds.Dy()) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	for y := 0; y < newH; y++ {
		srcY := bounds.Min.Y + int(float64(y)/scale)
		for x := 0; x < newW; x++ {
			srcX := bounds.Min.X + int(float64(x)/scale)
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}
	return dst
}
