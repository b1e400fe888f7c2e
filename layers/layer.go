package layers

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/piilabel/tensor"
)

// Module is implemented by every layer and model in the package. Layers
// expose their parameters for the optimizer and checkpointing, and
// switch between train and eval behavior (dropout is the only layer
// that currently differs between the two).
type Module interface {
	Parameters() []*Parameter
	Train()
	Eval()
	IsTraining() bool
}

// base carries the train/eval flag shared by all layers.
type base struct {
	training bool
}

func (b *base) Train()           { b.training = true }
func (b *base) Eval()            { b.training = false }
func (b *base) IsTraining() bool { return b.training }

// Linear is a fully connected layer computing x @ W + b.
type Linear struct {
	base
	Weight *Parameter
	Bias   *Parameter // nil when constructed without a bias

	inputSize  int
	outputSize int
}

// NewLinear creates a linear layer with Xavier-uniform initialized
// weights. The weight participates in weight decay; the bias does not.
// Initialization draws from rng so two layers built with equally seeded
// sources start identical.
func NewLinear(name string, inputSize, outputSize int, useBias bool, rng *rand.Rand) (*Linear, error) {
	if inputSize <= 0 || outputSize <= 0 {
		return nil, fmt.Errorf("linear layer dimensions must be positive, got %d and %d", inputSize, outputSize)
	}

	limit := math.Sqrt(6.0 / float64(inputSize+outputSize))
	weight, err := tensor.RandomUniform([]int{inputSize, outputSize}, limit, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize weight for %s: %v", name, err)
	}

	layer := &Linear{
		Weight:     NewParameter(name+".weight", weight, false),
		inputSize:  inputSize,
		outputSize: outputSize,
	}

	if useBias {
		bias, err := tensor.Zeros([]int{outputSize}, tensor.Float32)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize bias for %s: %v", name, err)
		}
		layer.Bias = NewParameter(name+".bias", bias, true)
	}

	return layer, nil
}

// Forward computes the affine transform for a [batch, inputSize] input.
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 2 || input.Shape[1] != l.inputSize {
		return nil, fmt.Errorf("linear layer expects input shape [batch, %d], got %v", l.inputSize, input.Shape)
	}

	output, err := tensor.MatMulAutograd(input, l.Weight.Tensor)
	if err != nil {
		return nil, err
	}

	if l.Bias != nil {
		output, err = tensor.AddBiasAutograd(output, l.Bias.Tensor)
		if err != nil {
			return nil, err
		}
	}

	return output, nil
}

func (l *Linear) Parameters() []*Parameter {
	params := []*Parameter{l.Weight}
	if l.Bias != nil {
		params = append(params, l.Bias)
	}
	return params
}

// Embedding maps integer token ids to dense vectors via a learned
// [vocabSize, hiddenSize] table.
type Embedding struct {
	base
	Weight *Parameter

	vocabSize  int
	hiddenSize int
}

// NewEmbedding creates an embedding table initialized from a normal
// distribution with the given standard deviation.
func NewEmbedding(name string, vocabSize, hiddenSize int, initStd float32, rng *rand.Rand) (*Embedding, error) {
	if vocabSize <= 0 || hiddenSize <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive, got %d and %d", vocabSize, hiddenSize)
	}

	weight, err := tensor.RandomNormal([]int{vocabSize, hiddenSize}, 0, initStd, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding %s: %v", name, err)
	}

	return &Embedding{
		Weight:     NewParameter(name+".weight", weight, false),
		vocabSize:  vocabSize,
		hiddenSize: hiddenSize,
	}, nil
}

// Forward gathers embedding rows for an Int32 id tensor of shape
// [batch, seqLen], producing [batch, seqLen, hiddenSize].
func (e *Embedding) Forward(ids *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.EmbeddingAutograd(e.Weight.Tensor, ids)
}

func (e *Embedding) Parameters() []*Parameter {
	return []*Parameter{e.Weight}
}

// LayerNorm normalizes each row of a [batch, features] tensor to zero
// mean and unit variance, then applies a learned scale and shift. Both
// learned terms are exempt from weight decay.
type LayerNorm struct {
	base
	Gamma *Parameter
	Beta  *Parameter

	features int
	eps      float32
}

func NewLayerNorm(name string, features int, eps float32) (*LayerNorm, error) {
	if features <= 0 {
		return nil, fmt.Errorf("layer norm feature count must be positive, got %d", features)
	}
	if eps <= 0 {
		eps = 1e-5
	}

	gamma, err := tensor.Ones([]int{features}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	beta, err := tensor.Zeros([]int{features}, tensor.Float32)
	if err != nil {
		return nil, err
	}

	return &LayerNorm{
		Gamma:    NewParameter(name+".gamma", gamma, true),
		Beta:     NewParameter(name+".beta", beta, true),
		features: features,
		eps:      eps,
	}, nil
}

func (ln *LayerNorm) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 2 || input.Shape[1] != ln.features {
		return nil, fmt.Errorf("layer norm expects input shape [batch, %d], got %v", ln.features, input.Shape)
	}
	return tensor.LayerNormAutograd(input, ln.Gamma.Tensor, ln.Beta.Tensor, ln.eps)
}

func (ln *LayerNorm) Parameters() []*Parameter {
	return []*Parameter{ln.Gamma, ln.Beta}
}

// Dropout zeroes activations with probability p during training and
// rescales the survivors. In eval mode it is the identity. The layer
// draws from its own injected source so training runs are repeatable.
type Dropout struct {
	base
	p   float64
	rng *rand.Rand
}

func NewDropout(p float64, rng *rand.Rand) (*Dropout, error) {
	if p < 0 || p >= 1 {
		return nil, fmt.Errorf("dropout probability must be in [0, 1), got %v", p)
	}
	if rng == nil {
		return nil, fmt.Errorf("dropout requires a random source")
	}
	return &Dropout{p: p, rng: rng}, nil
}

func (d *Dropout) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if !d.training || d.p == 0 {
		return input, nil
	}
	return tensor.DropoutAutograd(input, d.p, d.rng)
}

func (d *Dropout) Parameters() []*Parameter {
	return nil
}
