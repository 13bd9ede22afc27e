//go:build onnx

// Package onnx runs sentence-transformer models such as all-MiniLM-L6-v2
// locally through ONNX Runtime.
package onnx

import (
	"context"
	"math"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/becomeliminal/symbiote/logging"
	"github.com/becomeliminal/symbiote/memory/embedder"
)

// Config configures the ONNX model.
type Config struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string

	// TokenizerPath is the path to the tokenizer.json file.
	TokenizerPath string

	// LibraryPath is the path to the onnxruntime shared library. Empty uses
	// the platform default search path.
	LibraryPath string

	// Dimensions is the embedding vector size (default: 384 for all-MiniLM-L6-v2).
	Dimensions int

	// MaxSequenceLength caps tokens per text including [CLS] and [SEP]
	// (default: 128).
	MaxSequenceLength int
}

// Model generates embeddings using ONNX Runtime.
type Model struct {
	session    *ort.DynamicAdvancedSession
	tokenizer  *Tokenizer
	dimensions int
	maxLen     int

	// ONNX Runtime sessions may run concurrently, but output tensors are
	// allocated per Run; mu keeps Close from racing an inference.
	mu sync.RWMutex
}

var envMu sync.Mutex

// Loader returns an embedder.Loader that opens the model described by cfg.
func Loader(cfg Config) embedder.Loader {
	return func(ctx context.Context) (embedder.Model, error) {
		return New(ctx, cfg)
	}
}

// New loads the tokenizer and creates an inference session.
func New(ctx context.Context, cfg Config) (*Model, error) {
	if cfg.ModelPath == "" {
		return nil, goerr.New("onnx model path is required")
	}
	if cfg.TokenizerPath == "" {
		return nil, goerr.New("onnx tokenizer path is required")
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}
	if cfg.MaxSequenceLength == 0 {
		cfg.MaxSequenceLength = 128
	}

	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, err
	}

	tokenizer, err := LoadTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to inspect onnx model", goerr.V("path", cfg.ModelPath))
	}

	inputNames := make([]string, 0, len(inputs))
	for _, in := range inputs {
		inputNames = append(inputNames, in.Name)
	}
	if len(outputs) == 0 {
		return nil, goerr.New("onnx model has no outputs", goerr.V("path", cfg.ModelPath))
	}
	outputNames := []string{outputs[0].Name}

	logging.From(ctx).Debug("onnx model inspected",
		"inputs", inputNames,
		"output", outputNames[0],
	)

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputNames, outputNames, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create onnx session", goerr.V("path", cfg.ModelPath))
	}

	return &Model{
		session:    session,
		tokenizer:  tokenizer.withInputs(inputNames),
		dimensions: cfg.Dimensions,
		maxLen:     cfg.MaxSequenceLength,
	}, nil
}

func initEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return goerr.Wrap(err, "failed to initialize onnx runtime", goerr.V("library", libraryPath))
	}
	return nil
}

// Embed runs one batched inference over texts and mean-pools the token
// states of each row into a unit vector.
func (m *Model) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil, goerr.New("onnx model is closed")
	}

	batch := m.tokenizer.Encode(texts, m.maxLen)
	shape := ort.NewShape(int64(len(texts)), int64(batch.SeqLen))

	var inputs []ort.Value
	defer func() {
		for _, in := range inputs {
			in.Destroy()
		}
	}()
	for _, name := range m.tokenizer.inputs {
		data, ok := batch.Inputs[name]
		if !ok {
			return nil, goerr.New("unsupported onnx input", goerr.V("name", name))
		}
		tensor, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create input tensor", goerr.V("name", name))
		}
		inputs = append(inputs, tensor)
	}

	outputs := []ort.Value{nil}
	if err := m.session.Run(inputs, outputs); err != nil {
		return nil, goerr.Wrap(err, "onnx inference failed")
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, goerr.New("unexpected onnx output tensor type")
	}

	return m.pool(tensor.GetData(), tensor.GetShape(), batch)
}

// pool turns the model output into one vector per row. Outputs shaped
// [batch, hidden] are already pooled; [batch, seq, hidden] are mean-pooled
// over attended tokens.
func (m *Model) pool(data []float32, shape ort.Shape, batch *Batch) ([][]float32, error) {
	rows := batch.Rows
	out := make([][]float32, rows)

	switch len(shape) {
	case 2:
		if int(shape[1]) != m.dimensions {
			return nil, goerr.New("onnx hidden size mismatch", goerr.V("got", shape[1]), goerr.V("want", m.dimensions))
		}
		for r := 0; r < rows; r++ {
			vec := make([]float32, m.dimensions)
			copy(vec, data[r*m.dimensions:(r+1)*m.dimensions])
			out[r] = normalize(vec)
		}

	case 3:
		seqLen, hidden := int(shape[1]), int(shape[2])
		if hidden != m.dimensions {
			return nil, goerr.New("onnx hidden size mismatch", goerr.V("got", hidden), goerr.V("want", m.dimensions))
		}
		mask := batch.Inputs["attention_mask"]
		for r := 0; r < rows; r++ {
			vec := make([]float32, hidden)
			var attended float32
			for s := 0; s < seqLen; s++ {
				if mask[r*seqLen+s] == 0 {
					continue
				}
				attended++
				offset := (r*seqLen + s) * hidden
				for h := 0; h < hidden; h++ {
					vec[h] += data[offset+h]
				}
			}
			if attended > 0 {
				for h := range vec {
					vec[h] /= attended
				}
			}
			out[r] = normalize(vec)
		}

	default:
		return nil, goerr.New("unexpected onnx output shape", goerr.V("shape", shape))
	}

	return out, nil
}

// Dimensions returns the embedding vector size.
func (m *Model) Dimensions() int {
	return m.dimensions
}

// Close releases ONNX resources.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	if err != nil {
		return goerr.Wrap(err, "failed to destroy onnx session")
	}
	return nil
}

func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}

	norm = math.Sqrt(norm)
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
	return vec
}
