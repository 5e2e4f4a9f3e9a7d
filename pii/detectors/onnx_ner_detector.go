package pii

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/daulet/tokenizers"
	onnxruntime "github.com/yalue/onnxruntime_go"
)

// maxSequenceLength is the model's position-embedding window. Longer
// inputs must be chunked by the caller.
const maxSequenceLength = 512

// minTokenConfidence is the softmax floor below which a token label is
// treated as O.
const minTokenConfidence = 0.5

// ONNXNERDetector implements Detector using a local ONNX token
// classification model with BIO-tagged labels.
type ONNXNERDetector struct {
	tokenizer    *tokenizers.Tokenizer
	session      *onnxruntime.AdvancedSession
	inputTensor  *onnxruntime.Tensor[int64]
	maskTensor   *onnxruntime.Tensor[int64]
	outputTensor *onnxruntime.Tensor[float32]
	id2label     map[string]string
	numLabels    int
	modelPath    string
}

// safeUintToInt safely converts a uint to int with bounds checking
func safeUintToInt(val uint) int {
	const maxInt = int(^uint(0) >> 1)
	if val <= uint(maxInt) {
		// #nosec G115 - Safe conversion with bounds checking
		return int(val)
	}
	return maxInt
}

// NewONNXNERDetector creates a detector from a model file, a tokenizer
// file and a label mapping file.
func NewONNXNERDetector(modelPath, tokenizerPath, labelMapPath string) (*ONNXNERDetector, error) {
	// Resolve the ONNX Runtime shared library. The environment variable
	// wins; otherwise probe the usual install locations.
	onnxLibPath := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")
	if onnxLibPath == "" {
		onnxPaths := []string{
			"./libonnxruntime.so",
			"./build/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"./libonnxruntime.1.23.1.dylib",
			"./build/libonnxruntime.1.23.1.dylib",
		}
		for _, path := range onnxPaths {
			if _, err := os.Stat(path); err == nil {
				onnxLibPath = path
				break
			}
		}
	}
	if onnxLibPath != "" {
		onnxruntime.SetSharedLibraryPath(onnxLibPath)
	}

	if !onnxruntime.IsInitialized() {
		if err := onnxruntime.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX Runtime environment: %w", err)
		}
	}

	tk, err := tokenizers.FromFile(tokenizerPath)
	if err != nil {
		if err := onnxruntime.DestroyEnvironment(); err != nil {
			fmt.Printf("Warning: failed to destroy environment during cleanup: %v\n", err)
		}
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	labelData, err := os.ReadFile(labelMapPath)
	if err != nil {
		if err := tk.Close(); err != nil {
			fmt.Printf("Warning: failed to close tokenizer during cleanup: %v\n", err)
		}
		if err := onnxruntime.DestroyEnvironment(); err != nil {
			fmt.Printf("Warning: failed to destroy environment during cleanup: %v\n", err)
		}
		return nil, fmt.Errorf("failed to read label mapping file: %w", err)
	}

	var labelConfig struct {
		ID2Label map[string]string `json:"id2label"`
		Label2ID map[string]int    `json:"label2id"`
	}
	if err := json.Unmarshal(labelData, &labelConfig); err != nil {
		if err := tk.Close(); err != nil {
			fmt.Printf("Warning: failed to close tokenizer during cleanup: %v\n", err)
		}
		if err := onnxruntime.DestroyEnvironment(); err != nil {
			fmt.Printf("Warning: failed to destroy environment during cleanup: %v\n", err)
		}
		return nil, fmt.Errorf("failed to parse label mapping: %w", err)
	}

	// Label IDs are 0-indexed; the count is the highest ID plus one.
	numLabels := 0
	for idStr := range labelConfig.ID2Label {
		if idStr == "-100" {
			continue
		}
		var id int
		if _, err := fmt.Sscanf(idStr, "%d", &id); err == nil {
			if id >= numLabels {
				numLabels = id + 1
			}
		}
	}
	if numLabels == 0 {
		numLabels = len(labelConfig.Label2ID)
	}
	if numLabels == 0 {
		if err := tk.Close(); err != nil {
			fmt.Printf("Warning: failed to close tokenizer during cleanup: %v\n", err)
		}
		if err := onnxruntime.DestroyEnvironment(); err != nil {
			fmt.Printf("Warning: failed to destroy environment during cleanup: %v\n", err)
		}
		return nil, fmt.Errorf("label mapping %s defines no labels", labelMapPath)
	}

	return &ONNXNERDetector{
		tokenizer: tk,
		id2label:  labelConfig.ID2Label,
		numLabels: numLabels,
		modelPath: modelPath,
	}, nil
}

// GetName returns the name of this detector
func (d *ONNXNERDetector) GetName() string {
	return "onnx_ner_detector"
}

// Detect tokenizes the input, runs inference and groups BIO-tagged
// tokens into entities with spans into the original text.
func (d *ONNXNERDetector) Detect(ctx context.Context, input DetectorInput) (DetectorOutput, error) {
	if err := ctx.Err(); err != nil {
		return DetectorOutput{}, err
	}

	// Session and tensors are created lazily on first use.
	if d.session == nil {
		if err := d.initializeSession(); err != nil {
			return DetectorOutput{}, fmt.Errorf("failed to initialize session: %w", err)
		}
	}

	encoding := d.tokenizer.EncodeWithOptions(input.Text, true, tokenizers.WithReturnOffsets())
	tokenIDs := encoding.IDs
	offsets := encoding.Offsets
	if len(tokenIDs) > maxSequenceLength {
		tokenIDs = tokenIDs[:maxSequenceLength]
		if len(offsets) > maxSequenceLength {
			offsets = offsets[:maxSequenceLength]
		}
	}

	inputIDs := make([]int64, len(tokenIDs))
	attentionMask := make([]int64, len(tokenIDs))
	for i := range tokenIDs {
		inputIDs[i] = int64(tokenIDs[i])
		attentionMask[i] = 1
	}

	d.updateInputTensors(inputIDs, attentionMask)

	if err := d.session.Run(); err != nil {
		return DetectorOutput{}, fmt.Errorf("failed to run inference: %w", err)
	}

	entities := d.collectEntities(input.Text, tokenIDs, offsets)

	return DetectorOutput{
		Text:     input.Text,
		Entities: entities,
	}, nil
}

// collectEntities groups consecutive tokens with the same base label
// following the B-/I- prefix convention.
func (d *ONNXNERDetector) collectEntities(originalText string, tokenIDs []uint32, offsets []tokenizers.Offset) []Entity {
	outputData := d.outputTensor.GetData()
	entities := []Entity{}

	numTokens := len(tokenIDs)
	if len(offsets) < numTokens {
		numTokens = len(offsets)
	}

	var currentEntity *Entity
	var currentTokens []int

	for i := 0; i < numTokens; i++ {
		startIdx := i * d.numLabels
		endIdx := (i + 1) * d.numLabels
		if endIdx > len(outputData) {
			break
		}
		tokenLogits := outputData[startIdx:endIdx]

		maxLogit := float64(-math.MaxFloat64)
		bestClass := 0
		for j, logit := range tokenLogits {
			if float64(logit) > maxLogit {
				maxLogit = float64(logit)
				bestClass = j
			}
		}

		label, exists := d.id2label[fmt.Sprintf("%d", bestClass)]
		if !exists {
			label = "O"
		}

		// Softmax over the token's logits.
		var sum float64
		for _, logit := range tokenLogits {
			sum += math.Exp(float64(logit))
		}
		confidence := math.Exp(maxLogit) / sum
		if confidence < minTokenConfidence {
			label = "O"
		}

		isBeginning := strings.HasPrefix(label, "B-")
		isInside := strings.HasPrefix(label, "I-")
		baseLabel := label
		if isBeginning || isInside {
			baseLabel = strings.TrimPrefix(strings.TrimPrefix(label, "B-"), "I-")
		}

		switch {
		case label != "O" && (isBeginning || currentEntity == nil):
			if currentEntity != nil {
				d.finalizeEntity(currentEntity, currentTokens, originalText, offsets)
				entities = append(entities, *currentEntity)
			}
			currentEntity = &Entity{
				Label:      baseLabel,
				Confidence: confidence,
			}
			currentTokens = []int{i}
		case label != "O" && isInside && currentEntity != nil && currentEntity.Label == baseLabel:
			currentTokens = append(currentTokens, i)
			currentEntity.Confidence = (currentEntity.Confidence + confidence) / 2
		default:
			if currentEntity != nil {
				d.finalizeEntity(currentEntity, currentTokens, originalText, offsets)
				entities = append(entities, *currentEntity)
				currentEntity = nil
				currentTokens = nil
			}
		}
	}

	if currentEntity != nil {
		d.finalizeEntity(currentEntity, currentTokens, originalText, offsets)
		entities = append(entities, *currentEntity)
	}

	return entities
}

// finalizeEntity extracts the entity text from the original string using
// the first and last token offsets.
func (d *ONNXNERDetector) finalizeEntity(entity *Entity, tokenIndices []int, originalText string, offsets []tokenizers.Offset) {
	if len(tokenIndices) == 0 {
		return
	}
	startOffset := offsets[tokenIndices[0]]
	endOffset := offsets[tokenIndices[len(tokenIndices)-1]]
	entity.Text = originalText[startOffset[0]:endOffset[1]]
	entity.StartPos = safeUintToInt(startOffset[0])
	entity.EndPos = safeUintToInt(endOffset[1])
}

// initializeSession creates the session and I/O tensors.
func (d *ONNXNERDetector) initializeSession() error {
	batchSize := int64(1)
	seqLen := int64(maxSequenceLength)

	inputShape := onnxruntime.NewShape(batchSize, seqLen)
	inputTensor, err := onnxruntime.NewTensor(inputShape, make([]int64, maxSequenceLength))
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}

	maskTensor, err := onnxruntime.NewTensor(inputShape, make([]int64, maxSequenceLength))
	if err != nil {
		if err := inputTensor.Destroy(); err != nil {
			fmt.Printf("Warning: failed to destroy input tensor during cleanup: %v\n", err)
		}
		return fmt.Errorf("failed to create mask tensor: %w", err)
	}

	outputShape := onnxruntime.NewShape(batchSize, seqLen, int64(d.numLabels))
	outputTensor, err := onnxruntime.NewEmptyTensor[float32](outputShape)
	if err != nil {
		if err := inputTensor.Destroy(); err != nil {
			fmt.Printf("Warning: failed to destroy input tensor during cleanup: %v\n", err)
		}
		if err := maskTensor.Destroy(); err != nil {
			fmt.Printf("Warning: failed to destroy mask tensor during cleanup: %v\n", err)
		}
		return fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := onnxruntime.NewAdvancedSession(d.modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"logits"},
		[]onnxruntime.Value{inputTensor, maskTensor},
		[]onnxruntime.Value{outputTensor},
		nil)
	if err != nil {
		if err := inputTensor.Destroy(); err != nil {
			fmt.Printf("Warning: failed to destroy input tensor during cleanup: %v\n", err)
		}
		if err := maskTensor.Destroy(); err != nil {
			fmt.Printf("Warning: failed to destroy mask tensor during cleanup: %v\n", err)
		}
		if err := outputTensor.Destroy(); err != nil {
			fmt.Printf("Warning: failed to destroy output tensor during cleanup: %v\n", err)
		}
		return fmt.Errorf("failed to create session: %w", err)
	}

	d.session = session
	d.inputTensor = inputTensor
	d.maskTensor = maskTensor
	d.outputTensor = outputTensor

	return nil
}

// updateInputTensors zeroes the tensors and copies in the new sequence.
func (d *ONNXNERDetector) updateInputTensors(inputIDs, attentionMask []int64) {
	inputData := d.inputTensor.GetData()
	maskData := d.maskTensor.GetData()

	for i := range inputData {
		inputData[i] = 0
		maskData[i] = 0
	}

	copy(inputData, inputIDs)
	copy(maskData, attentionMask)
}

// Close implements the Detector interface
func (d *ONNXNERDetector) Close() error {
	var errs []error

	if d.session != nil {
		if err := d.session.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy session: %w", err))
		}
	}
	if d.inputTensor != nil {
		if err := d.inputTensor.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy input tensor: %w", err))
		}
	}
	if d.maskTensor != nil {
		if err := d.maskTensor.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy mask tensor: %w", err))
		}
	}
	if d.outputTensor != nil {
		if err := d.outputTensor.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy output tensor: %w", err))
		}
	}
	if d.tokenizer != nil {
		if err := d.tokenizer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close tokenizer: %w", err))
		}
	}
	if err := onnxruntime.DestroyEnvironment(); err != nil {
		errs = append(errs, fmt.Errorf("failed to destroy environment: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}
