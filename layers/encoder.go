package layers

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/piilabel/tensor"
)

// Config holds the encoder hyperparameters. Values of zero fall back
// to the defaults applied by withDefaults.
type Config struct {
	VocabSize  int
	HiddenSize int
	Dropout    float64
	InitStd    float32
}

func (c Config) withDefaults() Config {
	if c.HiddenSize == 0 {
		c.HiddenSize = 128
	}
	if c.InitStd == 0 {
		c.InitStd = 0.02
	}
	return c
}

// Encoder turns padded token id batches into fixed-size text
// representations. Token embeddings are pooled by a padding-aware mean,
// normalized, and projected through a tanh dense layer. Padded
// positions never contribute to the representation.
type Encoder struct {
	embedding *Embedding
	norm      *LayerNorm
	dropout   *Dropout
	dense     *Linear

	config Config
}

// NewEncoder builds an encoder with freshly initialized weights drawn
// from rng.
func NewEncoder(cfg Config, rng *rand.Rand) (*Encoder, error) {
	cfg = cfg.withDefaults()
	if cfg.VocabSize <= 0 {
		return nil, fmt.Errorf("encoder requires a positive vocabulary size, got %d", cfg.VocabSize)
	}

	embedding, err := NewEmbedding("encoder.embedding", cfg.VocabSize, cfg.HiddenSize, cfg.InitStd, rng)
	if err != nil {
		return nil, err
	}
	norm, err := NewLayerNorm("encoder.norm", cfg.HiddenSize, 1e-5)
	if err != nil {
		return nil, err
	}
	dropout, err := NewDropout(cfg.Dropout, rng)
	if err != nil {
		return nil, err
	}
	dense, err := NewLinear("encoder.dense", cfg.HiddenSize, cfg.HiddenSize, true, rng)
	if err != nil {
		return nil, err
	}

	return &Encoder{
		embedding: embedding,
		norm:      norm,
		dropout:   dropout,
		dense:     dense,
		config:    cfg,
	}, nil
}

// Forward encodes ids [batch, seqLen] with attention mask
// [batch, seqLen] into [batch, hiddenSize].
func (e *Encoder) Forward(ids, mask *tensor.Tensor) (*tensor.Tensor, error) {
	embedded, err := e.embedding.Forward(ids)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %v", err)
	}

	pooled, err := tensor.MaskedMeanAutograd(embedded, mask)
	if err != nil {
		return nil, fmt.Errorf("pooling failed: %v", err)
	}

	normalized, err := e.norm.Forward(pooled)
	if err != nil {
		return nil, fmt.Errorf("normalization failed: %v", err)
	}

	dropped, err := e.dropout.Forward(normalized)
	if err != nil {
		return nil, err
	}

	dense, err := e.dense.Forward(dropped)
	if err != nil {
		return nil, fmt.Errorf("dense projection failed: %v", err)
	}

	return tensor.TanhAutograd(dense)
}

func (e *Encoder) Parameters() []*Parameter {
	var params []*Parameter
	params = append(params, e.embedding.Parameters()...)
	params = append(params, e.norm.Parameters()...)
	params = append(params, e.dense.Parameters()...)
	return params
}

func (e *Encoder) Train() {
	e.embedding.Train()
	e.norm.Train()
	e.dropout.Train()
	e.dense.Train()
}

func (e *Encoder) Eval() {
	e.embedding.Eval()
	e.norm.Eval()
	e.dropout.Eval()
	e.dense.Eval()
}

func (e *Encoder) IsTraining() bool {
	return e.dropout.IsTraining()
}

// Classifier is the encoder plus a linear head producing one logit per
// label. The head width is fixed by the label set at construction, and
// all parameters, encoder and head alike, are trained together.
type Classifier struct {
	encoder *Encoder
	head    *Linear

	labels []string
	config Config
}

// NewClassifier builds a classifier whose head width equals the number
// of labels. The label order given here fixes the meaning of each logit
// column for the life of the model.
func NewClassifier(cfg Config, labels []string, rng *rand.Rand) (*Classifier, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("classifier requires at least one label")
	}

	encoder, err := NewEncoder(cfg, rng)
	if err != nil {
		return nil, err
	}

	head, err := NewLinear("head", encoder.config.HiddenSize, len(labels), true, rng)
	if err != nil {
		return nil, err
	}

	return &Classifier{
		encoder: encoder,
		head:    head,
		labels:  append([]string(nil), labels...),
		config:  encoder.config,
	}, nil
}

// Forward produces raw logits [batch, numLabels]. Callers apply sigmoid
// themselves; the training loss and the evaluator both work on logits.
func (c *Classifier) Forward(ids, mask *tensor.Tensor) (*tensor.Tensor, error) {
	encoded, err := c.encoder.Forward(ids, mask)
	if err != nil {
		return nil, err
	}
	return c.head.Forward(encoded)
}

// Labels returns the label names in logit-column order.
func (c *Classifier) Labels() []string {
	return append([]string(nil), c.labels...)
}

func (c *Classifier) NumLabels() int {
	return len(c.labels)
}

func (c *Classifier) Config() Config {
	return c.config
}

func (c *Classifier) Parameters() []*Parameter {
	return append(c.encoder.Parameters(), c.head.Parameters()...)
}

func (c *Classifier) Train() {
	c.encoder.Train()
	c.head.Train()
}

func (c *Classifier) Eval() {
	c.encoder.Eval()
	c.head.Eval()
}

func (c *Classifier) IsTraining() bool {
	return c.encoder.IsTraining()
}

// Clone returns a deep copy with identical weights. The copy gets its
// own dropout source so replicas can run concurrently without sharing
// mutable state.
func (c *Classifier) Clone(rng *rand.Rand) (*Classifier, error) {
	clone, err := NewClassifier(c.config, c.labels, rng)
	if err != nil {
		return nil, err
	}

	src := c.Parameters()
	dst := clone.Parameters()
	if len(src) != len(dst) {
		return nil, fmt.Errorf("clone parameter count mismatch: %d vs %d", len(src), len(dst))
	}
	for i, p := range src {
		srcData, err := p.Tensor.GetFloat32Data()
		if err != nil {
			return nil, fmt.Errorf("failed to copy %s: %v", p.Name, err)
		}
		dstData, err := dst[i].Tensor.GetFloat32Data()
		if err != nil {
			return nil, fmt.Errorf("failed to copy %s: %v", p.Name, err)
		}
		copy(dstData, srcData)
	}

	return clone, nil
}
