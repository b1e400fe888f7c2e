// Package checkpoints saves and restores classifier weights as JSON.
// A checkpoint is a complete snapshot: model configuration, label
// order, every named weight with its decay flag, and the training
// state needed to resume or audit a run.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tsawler/piilabel/dataset"
	"github.com/tsawler/piilabel/layers"
)

const formatVersion = "1.0"

// WeightTensor is one named parameter's values.
type WeightTensor struct {
	Name    string    `json:"name"`
	Shape   []int     `json:"shape"`
	Data    []float32 `json:"data"`
	NoDecay bool      `json:"no_decay"`
}

// TrainingState records where training stood when the snapshot was
// taken.
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	StepCount    int     `json:"step_count"`
	LearningRate float32 `json:"learning_rate"`
	Loss         float64 `json:"loss"`
}

// Checkpoint is the serialized form of a classifier.
type Checkpoint struct {
	Version     string        `json:"version"`
	RunID       string        `json:"run_id"`
	CreatedAt   time.Time     `json:"created_at"`
	Description string        `json:"description,omitempty"`
	Config      layers.Config `json:"config"`
	Labels      []string      `json:"labels"`
	Weights     []WeightTensor `json:"weights"`
	Training    TrainingState  `json:"training"`
}

// FromModel snapshots a classifier. Weight data is copied, so the
// checkpoint stays stable while training continues. Callers training
// with replicas snapshot the primary model.
func FromModel(model *layers.Classifier, state TrainingState, description string) (*Checkpoint, error) {
	if model == nil {
		return nil, fmt.Errorf("cannot checkpoint a nil model")
	}

	params := model.Parameters()
	weights := make([]WeightTensor, 0, len(params))
	for _, p := range params {
		data, err := p.Tensor.GetFloat32Data()
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %v", p.Name, err)
		}
		weights = append(weights, WeightTensor{
			Name:    p.Name,
			Shape:   append([]int(nil), p.Tensor.Shape...),
			Data:    append([]float32(nil), data...),
			NoDecay: p.NoDecay,
		})
	}

	return &Checkpoint{
		Version:     formatVersion,
		RunID:       uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
		Description: description,
		Config:      model.Config(),
		Labels:      model.Labels(),
		Weights:     weights,
		Training:    state,
	}, nil
}

// Save writes the checkpoint to a JSON file.
func (c *Checkpoint) Save(path string) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %v", err)
	}
	return nil
}

// Load reads a checkpoint from a JSON file.
func Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %v", err)
	}

	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint %s: %v", path, err)
	}
	if c.Version != formatVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %q in %s", c.Version, path)
	}
	if len(c.Weights) == 0 {
		return nil, &dataset.SchemaError{Source: path, Reason: "checkpoint has no weights"}
	}
	return &c, nil
}

// ApplyTo restores every stored weight onto a model whose parameter
// names and shapes must match exactly. A label or shape mismatch is a
// schema error.
func (c *Checkpoint) ApplyTo(model *layers.Classifier) error {
	if model.NumLabels() != len(c.Labels) {
		return &dataset.SchemaError{
			Reason: fmt.Sprintf("checkpoint has %d labels but model head expects %d",
				len(c.Labels), model.NumLabels()),
		}
	}

	byName := make(map[string]WeightTensor, len(c.Weights))
	for _, w := range c.Weights {
		byName[w.Name] = w
	}

	for _, p := range model.Parameters() {
		w, ok := byName[p.Name]
		if !ok {
			return &dataset.SchemaError{Reason: fmt.Sprintf("checkpoint is missing weight %s", p.Name)}
		}
		if err := restoreWeight(p, w); err != nil {
			return err
		}
	}
	return nil
}

// ApplyEncoderTo restores only the encoder weights, leaving the
// classification head untouched. This is the transfer-learning path: a
// pretrained encoder drives a freshly initialized head sized for a new
// label set.
func (c *Checkpoint) ApplyEncoderTo(model *layers.Classifier) error {
	byName := make(map[string]WeightTensor, len(c.Weights))
	for _, w := range c.Weights {
		byName[w.Name] = w
	}

	for _, p := range model.Parameters() {
		if !strings.HasPrefix(p.Name, "encoder.") {
			continue
		}
		w, ok := byName[p.Name]
		if !ok {
			return &dataset.SchemaError{Reason: fmt.Sprintf("checkpoint is missing encoder weight %s", p.Name)}
		}
		if err := restoreWeight(p, w); err != nil {
			return err
		}
	}
	return nil
}

func restoreWeight(p *layers.Parameter, w WeightTensor) error {
	if len(w.Data) != p.Tensor.NumElems {
		return &dataset.SchemaError{
			Reason: fmt.Sprintf("weight %s has %d values, parameter expects %d",
				w.Name, len(w.Data), p.Tensor.NumElems),
		}
	}
	data, err := p.Tensor.GetFloat32Data()
	if err != nil {
		return fmt.Errorf("parameter %s: %v", p.Name, err)
	}
	copy(data, w.Data)
	return nil
}

// NewClassifier rebuilds a classifier from the checkpoint's own
// configuration and labels, then restores all weights.
func (c *Checkpoint) NewClassifier(rng *rand.Rand) (*layers.Classifier, error) {
	model, err := layers.NewClassifier(c.Config, c.Labels, rng)
	if err != nil {
		return nil, err
	}
	if err := c.ApplyTo(model); err != nil {
		return nil, err
	}
	return model, nil
}

// Restore loads a checkpoint and rebuilds the full classifier for a
// label set that must equal the checkpoint's exactly, names and order
// both. A mismatch is a schema error: scoring a dataset whose label
// columns differ from the ones the model was trained on would produce
// meaningless numbers. Callers that want the transfer-learning
// fallback use FromPretrained instead.
func Restore(path string, labels []string, rng *rand.Rand) (*layers.Classifier, error) {
	ckpt, err := Load(path)
	if err != nil {
		return nil, err
	}
	if !labelsEqual(ckpt.Labels, labels) {
		return nil, &dataset.SchemaError{
			Source: path,
			Reason: fmt.Sprintf("checkpoint labels %v do not match dataset label columns %v",
				ckpt.Labels, labels),
		}
	}
	return ckpt.NewClassifier(rng)
}

// FromPretrained loads a checkpoint and builds a classifier for the
// given label set. When the labels match the checkpoint's exactly, the
// whole model is restored; otherwise the encoder weights are reused
// under a fresh head sized for the new labels.
func FromPretrained(path string, labels []string, rng *rand.Rand) (*layers.Classifier, error) {
	ckpt, err := Load(path)
	if err != nil {
		return nil, err
	}

	if labelsEqual(ckpt.Labels, labels) {
		return ckpt.NewClassifier(rng)
	}

	model, err := layers.NewClassifier(ckpt.Config, labels, rng)
	if err != nil {
		return nil, err
	}
	if err := ckpt.ApplyEncoderTo(model); err != nil {
		return nil, err
	}
	return model, nil
}

func labelsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
