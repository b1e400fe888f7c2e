package layers

import (
	"github.com/tsawler/piilabel/tensor"
)

// Parameter is a named trainable tensor. NoDecay is assigned once, at
// construction, by the layer that owns the parameter: biases and
// normalization scale/shift terms opt out of weight decay. Grouping by
// this flag replaces fragile name-substring matching at training time.
type Parameter struct {
	Name    string
	Tensor  *tensor.Tensor
	NoDecay bool
}

// NewParameter marks the tensor trainable and wraps it with its name
// and decay eligibility.
func NewParameter(name string, t *tensor.Tensor, noDecay bool) *Parameter {
	t.SetRequiresGrad(true)
	return &Parameter{
		Name:    name,
		Tensor:  t,
		NoDecay: noDecay,
	}
}

// Tensors extracts the raw tensors of a parameter list, preserving
// order.
func Tensors(params []*Parameter) []*tensor.Tensor {
	out := make([]*tensor.Tensor, len(params))
	for i, p := range params {
		out[i] = p.Tensor
	}
	return out
}
