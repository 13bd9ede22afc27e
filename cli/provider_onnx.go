//go:build onnx

package cli

import (
	"github.com/becomeliminal/symbiote/memory/embedder"
	"github.com/becomeliminal/symbiote/memory/embedder/onnx"
)

func init() {
	providers["onnx"] = newONNXLoader
}

func newONNXLoader(cfg *config) (embedder.Loader, error) {
	return onnx.Loader(onnx.Config{
		ModelPath:     cfg.onnxModelPath,
		TokenizerPath: cfg.onnxTokenizerPath,
		LibraryPath:   cfg.onnxLibraryPath,
		Dimensions:    int(cfg.dimensions),
	}), nil
}
