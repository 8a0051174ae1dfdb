// Package inference holds the image classifier used by the prediction
// pipeline. A Model is loaded once at process start from a JSON artifact and
// shared by all requests; its forward pass reads immutable weights only, so
// concurrent Predict calls need no locking.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
)

// DefaultLabels is the ordered label set of the ECG image classifier.
var DefaultLabels = []string{
	"Abnormal Heartbeat",
	"History of MI",
	"Myocardial Infarction",
	"Normal",
}

var (
	ErrInvalidArtifact = errors.New("invalid model artifact")
	ErrShapeMismatch   = errors.New("input tensor shape mismatch")
)

// InputShape is the fixed input resolution and channel count of the network.
type InputShape struct {
	Width    int `json:"width"`
	Height   int `json:"height"`
	Channels int `json:"channels"`
}

// Artifact is the on-disk form of a trained model.
//
// The network is: resize + normalize, grid average pooling into
// Grid*Grid*Channels features (row-major, channel last), one dense layer,
// softmax. Weights has one row per label.
type Artifact struct {
	Version string      `json:"version"`
	Input   InputShape  `json:"input"`
	Grid    int         `json:"grid"`
	Labels  []string    `json:"labels"`
	Weights [][]float32 `json:"weights"`
	Bias    []float32   `json:"bias"`
}

// Result is the outcome of one forward pass.
type Result struct {
	Label         string    `json:"label"`
	Index         int       `json:"index"`
	Confidence    float64   `json:"confidence"`
	Probabilities []float64 `json:"probabilities"`
}

// Classifier is what the prediction service depends on.
type Classifier interface {
	Predict(ctx context.Context, img image.Image) (*Result, error)
	Labels() []string
	Version() string
}

// Model is a Classifier backed by an Artifact.
type Model struct {
	artifact    Artifact
	numFeatures int
}

// LoadModel reads and validates the artifact at path.
func LoadModel(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model file: %w", err)
	}
	defer f.Close()

	var artifact Artifact
	if err := json.NewDecoder(f).Decode(&artifact); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	return NewModel(artifact)
}

// NewModel validates artifact and wraps it. Missing labels fall back to
// DefaultLabels.
func NewModel(artifact Artifact) (*Model, error) {
	if len(artifact.Labels) == 0 {
		artifact.Labels = append([]string(nil), DefaultLabels...)
	}

	in := artifact.Input
	if in.Width <= 0 || in.Height <= 0 {
		return nil, fmt.Errorf("%w: input size must be positive", ErrInvalidArtifact)
	}
	if in.Channels != 1 && in.Channels != 3 {
		return nil, fmt.Errorf("%w: channels must be 1 or 3, got %d", ErrInvalidArtifact, in.Channels)
	}
	if artifact.Grid <= 0 || artifact.Grid > in.Width || artifact.Grid > in.Height {
		return nil, fmt.Errorf("%w: grid %d does not fit %dx%d input", ErrInvalidArtifact, artifact.Grid, in.Width, in.Height)
	}

	numFeatures := artifact.Grid * artifact.Grid * in.Channels
	if len(artifact.Weights) != len(artifact.Labels) {
		return nil, fmt.Errorf("%w: %d weight rows for %d labels", ErrInvalidArtifact, len(artifact.Weights), len(artifact.Labels))
	}
	if len(artifact.Bias) != len(artifact.Labels) {
		return nil, fmt.Errorf("%w: %d biases for %d labels", ErrInvalidArtifact, len(artifact.Bias), len(artifact.Labels))
	}
	for i, row := range artifact.Weights {
		if len(row) != numFeatures {
			return nil, fmt.Errorf("%w: weight row %d has %d values, want %d", ErrInvalidArtifact, i, len(row), numFeatures)
		}
	}

	return &Model{artifact: artifact, numFeatures: numFeatures}, nil
}

func (m *Model) Labels() []string {
	return append([]string(nil), m.artifact.Labels...)
}

func (m *Model) Version() string {
	return m.artifact.Version
}

func (m *Model) InputShape() InputShape {
	return m.artifact.Input
}

// Predict normalizes img to the network input, runs the forward pass and
// picks the most probable label.
func (m *Model) Predict(ctx context.Context, img image.Image) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tensor := Preprocess(img, m.artifact.Input)

	probs, err := m.Forward(tensor)
	if err != nil {
		return nil, err
	}

	idx := Argmax(probs)
	return &Result{
		Label:         m.artifact.Labels[idx],
		Index:         idx,
		Confidence:    probs[idx],
		Probabilities: probs,
	}, nil
}

// Forward runs the network on a [1, H, W, C] tensor and returns the softmax
// probability of every label.
func (m *Model) Forward(t *Tensor) ([]float64, error) {
	in := m.artifact.Input
	if !t.HasShape(1, in.Height, in.Width, in.Channels) {
		return nil, fmt.Errorf("%w: got %v, want [1 %d %d %d]", ErrShapeMismatch, t.Shape, in.Height, in.Width, in.Channels)
	}

	features := gridPool(t, m.artifact.Grid)

	logits := make([]float64, len(m.artifact.Labels))
	for i, row := range m.artifact.Weights {
		sum := float64(m.artifact.Bias[i])
		for j, w := range row {
			sum += float64(w) * features[j]
		}
		logits[i] = sum
	}

	return Softmax(logits), nil
}

// gridPool averages each channel over grid x grid cells of the single image
// in t. Cell boundaries are spread evenly so every pixel belongs to one cell.
func gridPool(t *Tensor, grid int) []float64 {
	h, w, c := t.Shape[1], t.Shape[2], t.Shape[3]
	features := make([]float64, grid*grid*c)

	for gy := 0; gy < grid; gy++ {
		y0, y1 := gy*h/grid, (gy+1)*h/grid
		for gx := 0; gx < grid; gx++ {
			x0, x1 := gx*w/grid, (gx+1)*w/grid
			count := float64((y1 - y0) * (x1 - x0))
			base := (gy*grid + gx) * c

			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					offset := (y*w + x) * c
					for ch := 0; ch < c; ch++ {
						features[base+ch] += float64(t.Data[offset+ch])
					}
				}
			}
			for ch := 0; ch < c; ch++ {
				features[base+ch] /= count
			}
		}
	}
	return features
}
