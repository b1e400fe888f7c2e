package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

func checkCompatibility(t1, t2 *Tensor) error {
	if t1.DType != t2.DType {
		return fmt.Errorf("tensors must have same dtype: %s vs %s", t1.DType, t2.DType)
	}
	return nil
}

func checkShapesCompatible(shape1, shape2 []int) ([]int, error) {
	if len(shape1) == 0 || len(shape2) == 0 {
		return nil, fmt.Errorf("cannot operate on empty tensors")
	}

	if !shapesEqual(shape1, shape2) {
		return nil, fmt.Errorf("tensor shapes must match: %v vs %v", shape1, shape2)
	}

	return shape1, nil
}

func elementwise(t1, t2 *Tensor, f32 func(a, b float32) float32, i32 func(a, b int32) int32) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}

	outputShape, err := checkShapesCompatible(t1.Shape, t2.Shape)
	if err != nil {
		return nil, err
	}

	result, err := Zeros(outputShape, t1.DType)
	if err != nil {
		return nil, err
	}

	switch t1.DType {
	case Float32:
		data1 := t1.Data.([]float32)
		data2 := t2.Data.([]float32)
		resultData := result.Data.([]float32)
		for i := 0; i < t1.NumElems; i++ {
			resultData[i] = f32(data1[i], data2[i])
		}
	case Int32:
		data1 := t1.Data.([]int32)
		data2 := t2.Data.([]int32)
		resultData := result.Data.([]int32)
		for i := 0; i < t1.NumElems; i++ {
			resultData[i] = i32(data1[i], data2[i])
		}
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", t1.DType)
	}

	return result, nil
}

func Add(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise(t1, t2,
		func(a, b float32) float32 { return a + b },
		func(a, b int32) int32 { return a + b })
}

func Sub(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise(t1, t2,
		func(a, b float32) float32 { return a - b },
		func(a, b int32) int32 { return a - b })
}

func Mul(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise(t1, t2,
		func(a, b float32) float32 { return a * b },
		func(a, b int32) int32 { return a * b })
}

func Div(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise(t1, t2,
		func(a, b float32) float32 { return a / b },
		func(a, b int32) int32 { return a / b })
}

// Scale multiplies every element of a Float32 tensor by a constant.
func Scale(t *Tensor, factor float64) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Scale only supports Float32 tensors")
	}

	data := t.Data.([]float32)
	result := make([]float32, len(data))
	f := float32(factor)
	for i, val := range data {
		result[i] = val * f
	}

	return NewTensor(t.Shape, t.DType, result)
}

// MatMul computes the 2D matrix product t1 @ t2 using gonum's float32
// BLAS. Shapes must be [m, k] and [k, n].
func MatMul(t1, t2 *Tensor) (*Tensor, error) {
	if t1.DType != Float32 || t2.DType != Float32 {
		return nil, fmt.Errorf("MatMul only supports Float32 tensors")
	}
	if len(t1.Shape) != 2 || len(t2.Shape) != 2 {
		return nil, fmt.Errorf("MatMul requires 2D tensors, got %v and %v", t1.Shape, t2.Shape)
	}

	m, k := t1.Shape[0], t1.Shape[1]
	k2, n := t2.Shape[0], t2.Shape[1]
	if k != k2 {
		return nil, fmt.Errorf("inner dimensions must match: %v vs %v", t1.Shape, t2.Shape)
	}

	result, err := Zeros([]int{m, n}, Float32)
	if err != nil {
		return nil, err
	}

	a := blas32.General{Rows: m, Cols: k, Stride: k, Data: t1.Data.([]float32)}
	b := blas32.General{Rows: k, Cols: n, Stride: n, Data: t2.Data.([]float32)}
	c := blas32.General{Rows: m, Cols: n, Stride: n, Data: result.Data.([]float32)}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, a, b, 0, c)

	return result, nil
}

// Transpose returns the transpose of a 2D Float32 tensor.
func Transpose(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Transpose only supports Float32 tensors")
	}
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("Transpose requires a 2D tensor, got %v", t.Shape)
	}

	rows, cols := t.Shape[0], t.Shape[1]
	data := t.Data.([]float32)
	result := make([]float32, len(data))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			result[j*rows+i] = data[i*cols+j]
		}
	}

	return NewTensor([]int{cols, rows}, Float32, result)
}

func unaryFloat32(t *Tensor, f func(float32) float32) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("operation only supports Float32 tensors")
	}

	data := t.Data.([]float32)
	result := make([]float32, len(data))
	for i, val := range data {
		result[i] = f(val)
	}

	return NewTensor(t.Shape, t.DType, result)
}

func ReLU(t *Tensor) (*Tensor, error) {
	return unaryFloat32(t, func(v float32) float32 {
		if v < 0 {
			return 0
		}
		return v
	})
}

func Sigmoid(t *Tensor) (*Tensor, error) {
	return unaryFloat32(t, func(v float32) float32 {
		return float32(1.0 / (1.0 + math.Exp(-float64(v))))
	})
}

func Tanh(t *Tensor) (*Tensor, error) {
	return unaryFloat32(t, func(v float32) float32 {
		return float32(math.Tanh(float64(v)))
	})
}

func sqrt32(v float32) float32 {
	return float32(math.Sqrt(float64(v)))
}

// Sum adds all elements of a Float32 tensor into a single-element tensor.
func Sum(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Sum only supports Float32 tensors")
	}

	data := t.Data.([]float32)
	var sum float32
	for _, val := range data {
		sum += val
	}

	return NewTensor([]int{1}, Float32, []float32{sum})
}

// SumRows reduces a [rows, cols] tensor to [cols] by summing over rows.
func SumRows(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("SumRows only supports Float32 tensors")
	}
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("SumRows requires a 2D tensor, got %v", t.Shape)
	}

	rows, cols := t.Shape[0], t.Shape[1]
	data := t.Data.([]float32)
	result := make([]float32, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			result[j] += data[i*cols+j]
		}
	}

	return NewTensor([]int{cols}, Float32, result)
}
