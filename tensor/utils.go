package tensor

import (
	"fmt"
)

// Reshape returns a new tensor sharing no data with t but holding the
// same elements under a different shape.
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	if err := validateShape(newShape); err != nil {
		return nil, err
	}

	if calculateNumElements(newShape) != t.NumElems {
		return nil, fmt.Errorf("cannot reshape tensor with %d elements to shape %v", t.NumElems, newShape)
	}

	clone, err := t.Clone()
	if err != nil {
		return nil, err
	}
	clone.Shape = append([]int{}, newShape...)
	clone.Strides = calculateStrides(newShape)
	return clone, nil
}

// Clone copies shape and data. The autograd graph is not copied.
func (t *Tensor) Clone() (*Tensor, error) {
	var data interface{}
	switch t.DType {
	case Float32:
		src := t.Data.([]float32)
		dst := make([]float32, len(src))
		copy(dst, src)
		data = dst
	case Int32:
		src := t.Data.([]int32)
		dst := make([]int32, len(src))
		copy(dst, src)
		data = dst
	default:
		return nil, fmt.Errorf("unsupported dtype for Clone: %s", t.DType)
	}

	return NewTensor(append([]int{}, t.Shape...), t.DType, data)
}

// SetData overwrites the tensor's buffer in place.
func (t *Tensor) SetData(data interface{}) error {
	return t.setData(data)
}

func (t *Tensor) GetFloat32Data() ([]float32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("tensor dtype is %s, not Float32", t.DType)
	}
	return t.Data.([]float32), nil
}

func (t *Tensor) GetInt32Data() ([]int32, error) {
	if t.DType != Int32 {
		return nil, fmt.Errorf("tensor dtype is %s, not Int32", t.DType)
	}
	return t.Data.([]int32), nil
}

// Item extracts the value of a single-element Float32 tensor.
func (t *Tensor) Item() (float32, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("Item can only be called on tensors with exactly one element, got %d", t.NumElems)
	}
	if t.DType != Float32 {
		return 0, fmt.Errorf("Item only supports Float32 tensors, got %s", t.DType)
	}
	return t.Data.([]float32)[0], nil
}

func (t *Tensor) Equal(other *Tensor) bool {
	if t.DType != other.DType || !shapesEqual(t.Shape, other.Shape) {
		return false
	}

	switch t.DType {
	case Float32:
		data1 := t.Data.([]float32)
		data2 := other.Data.([]float32)
		for i := 0; i < t.NumElems; i++ {
			if data1[i] != data2[i] {
				return false
			}
		}
	case Int32:
		data1 := t.Data.([]int32)
		data2 := other.Data.([]int32)
		for i := 0; i < t.NumElems; i++ {
			if data1[i] != data2[i] {
				return false
			}
		}
	}

	return true
}

// ZeroGrad clears the accumulated gradients of the given tensors.
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		if t.requiresGrad && t.grad != nil {
			data := t.grad.Data.([]float32)
			for i := range data {
				data[i] = 0
			}
		}
	}
}

// AccumulateGrad adds delta into the tensor's gradient, allocating it
// on first use. Replicated training uses this to reduce replica
// gradients into the primary model's parameters.
func (t *Tensor) AccumulateGrad(delta *Tensor) error {
	return t.accumulateGrad(delta)
}

// accumulateGrad adds delta into the tensor's gradient, allocating it
// on first use.
func (t *Tensor) accumulateGrad(delta *Tensor) error {
	if t.grad == nil {
		g, err := Zeros(t.Shape, Float32)
		if err != nil {
			return err
		}
		t.grad = g
	}

	if !shapesEqual(t.grad.Shape, delta.Shape) {
		return fmt.Errorf("gradient shape %v does not match parameter shape %v", delta.Shape, t.grad.Shape)
	}

	dst := t.grad.Data.([]float32)
	src, err := delta.GetFloat32Data()
	if err != nil {
		return err
	}
	for i := range dst {
		dst[i] += src[i]
	}
	return nil
}
