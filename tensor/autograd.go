package tensor

import (
	"fmt"
	"math/rand"
)

// record wires an op's output into the autograd graph. The creator
// chain is only retained while grad mode is enabled and at least one
// input participates in training.
func record(op Operation, out *Tensor, inputs []*Tensor) {
	if !gradEnabled {
		return
	}
	requires := false
	for _, in := range inputs {
		if in.requiresGrad || in.creator != nil {
			requires = true
			break
		}
	}
	if requires {
		out.creator = op
		out.requiresGrad = true
	}
}

// AddOp implements elementwise addition of same-shape tensors.
type AddOp struct {
	inputs []*Tensor
}

func (op *AddOp) Inputs() []*Tensor { return op.inputs }

func (op *AddOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("AddOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	result, err := Add(inputs[0], inputs[1])
	if err != nil {
		return nil, err
	}

	record(op, result, inputs)
	return result, nil
}

func (op *AddOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	// d(a + b)/da = 1, d(a + b)/db = 1
	gradA, err := gradOut.Clone()
	if err != nil {
		return nil, err
	}
	gradB, err := gradOut.Clone()
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// AddBiasOp adds a [features] bias row-wise onto a [batch, features]
// tensor.
type AddBiasOp struct {
	inputs []*Tensor
}

func (op *AddBiasOp) Inputs() []*Tensor { return op.inputs }

func (op *AddBiasOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("AddBiasOp requires exactly 2 inputs")
	}
	x, bias := inputs[0], inputs[1]
	if len(x.Shape) != 2 || len(bias.Shape) != 1 || x.Shape[1] != bias.Shape[0] {
		return nil, fmt.Errorf("AddBiasOp requires [batch, features] and [features] tensors, got %v and %v", x.Shape, bias.Shape)
	}
	op.inputs = inputs

	batch, features := x.Shape[0], x.Shape[1]
	xData := x.Data.([]float32)
	biasData := bias.Data.([]float32)
	out := make([]float32, len(xData))
	for i := 0; i < batch; i++ {
		for j := 0; j < features; j++ {
			out[i*features+j] = xData[i*features+j] + biasData[j]
		}
	}

	result, err := NewTensor(x.Shape, Float32, out)
	if err != nil {
		return nil, err
	}

	record(op, result, inputs)
	return result, nil
}

func (op *AddBiasOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	gradX, err := gradOut.Clone()
	if err != nil {
		return nil, err
	}
	// Bias gradient sums the broadcast dimension back out.
	gradBias, err := SumRows(gradOut)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradX, gradBias}, nil
}

// MulOp implements elementwise multiplication of same-shape tensors.
type MulOp struct {
	inputs []*Tensor
}

func (op *MulOp) Inputs() []*Tensor { return op.inputs }

func (op *MulOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("MulOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	result, err := Mul(inputs[0], inputs[1])
	if err != nil {
		return nil, err
	}

	record(op, result, inputs)
	return result, nil
}

func (op *MulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a, b := op.inputs[0], op.inputs[1]

	// d(a * b)/da = b, d(a * b)/db = a
	gradA, err := Mul(gradOut, b)
	if err != nil {
		return nil, err
	}
	gradB, err := Mul(gradOut, a)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// MatMulOp implements 2D matrix multiplication.
type MatMulOp struct {
	inputs []*Tensor
}

func (op *MatMulOp) Inputs() []*Tensor { return op.inputs }

func (op *MatMulOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("MatMulOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	result, err := MatMul(inputs[0], inputs[1])
	if err != nil {
		return nil, err
	}

	record(op, result, inputs)
	return result, nil
}

func (op *MatMulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a, b := op.inputs[0], op.inputs[1]

	// d(A @ B)/dA = gradOut @ B^T, d(A @ B)/dB = A^T @ gradOut
	bT, err := Transpose(b)
	if err != nil {
		return nil, err
	}
	gradA, err := MatMul(gradOut, bT)
	if err != nil {
		return nil, err
	}

	aT, err := Transpose(a)
	if err != nil {
		return nil, err
	}
	gradB, err := MatMul(aT, gradOut)
	if err != nil {
		return nil, err
	}

	return []*Tensor{gradA, gradB}, nil
}

// ReLUOp implements the ReLU activation.
type ReLUOp struct {
	inputs []*Tensor
}

func (op *ReLUOp) Inputs() []*Tensor { return op.inputs }

func (op *ReLUOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("ReLUOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := ReLU(inputs[0])
	if err != nil {
		return nil, err
	}

	record(op, result, inputs)
	return result, nil
}

func (op *ReLUOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	input := op.inputs[0]

	grad, err := gradOut.Clone()
	if err != nil {
		return nil, err
	}
	inputData := input.Data.([]float32)
	gradData := grad.Data.([]float32)
	for i := range gradData {
		if inputData[i] <= 0 {
			gradData[i] = 0
		}
	}

	return []*Tensor{grad}, nil
}

// SigmoidOp implements the sigmoid activation.
type SigmoidOp struct {
	inputs []*Tensor
	output *Tensor
}

func (op *SigmoidOp) Inputs() []*Tensor { return op.inputs }

func (op *SigmoidOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("SigmoidOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := Sigmoid(inputs[0])
	if err != nil {
		return nil, err
	}
	op.output = result

	record(op, result, inputs)
	return result, nil
}

func (op *SigmoidOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	// ds(x)/dx = s(x) * (1 - s(x))
	outData := op.output.Data.([]float32)
	gradOutData := gradOut.Data.([]float32)
	grad := make([]float32, len(outData))
	for i := range grad {
		grad[i] = gradOutData[i] * outData[i] * (1 - outData[i])
	}

	g, err := NewTensor(op.output.Shape, Float32, grad)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// TanhOp implements the tanh activation.
type TanhOp struct {
	inputs []*Tensor
	output *Tensor
}

func (op *TanhOp) Inputs() []*Tensor { return op.inputs }

func (op *TanhOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("TanhOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := Tanh(inputs[0])
	if err != nil {
		return nil, err
	}
	op.output = result

	record(op, result, inputs)
	return result, nil
}

func (op *TanhOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	// dtanh(x)/dx = 1 - tanh(x)^2
	outData := op.output.Data.([]float32)
	gradOutData := gradOut.Data.([]float32)
	grad := make([]float32, len(outData))
	for i := range grad {
		grad[i] = gradOutData[i] * (1 - outData[i]*outData[i])
	}

	g, err := NewTensor(op.output.Shape, Float32, grad)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// EmbeddingOp gathers rows of a [vocab, hidden] weight matrix by token
// id, producing [batch, seq, hidden]. Ids receive no gradient; the
// weight gradient is a scatter-add of the output gradient.
type EmbeddingOp struct {
	inputs []*Tensor
}

func (op *EmbeddingOp) Inputs() []*Tensor { return op.inputs }

func (op *EmbeddingOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("EmbeddingOp requires exactly 2 inputs")
	}
	weight, ids := inputs[0], inputs[1]
	if len(weight.Shape) != 2 {
		return nil, fmt.Errorf("embedding weight must be [vocab, hidden], got %v", weight.Shape)
	}
	if ids.DType != Int32 || len(ids.Shape) != 2 {
		return nil, fmt.Errorf("embedding ids must be Int32 [batch, seq], got %s %v", ids.DType, ids.Shape)
	}
	op.inputs = inputs

	vocab, hidden := weight.Shape[0], weight.Shape[1]
	batch, seq := ids.Shape[0], ids.Shape[1]
	weightData := weight.Data.([]float32)
	idsData := ids.Data.([]int32)

	out := make([]float32, batch*seq*hidden)
	for i, id := range idsData {
		if id < 0 || int(id) >= vocab {
			return nil, fmt.Errorf("token id %d out of vocabulary range [0, %d)", id, vocab)
		}
		copy(out[i*hidden:(i+1)*hidden], weightData[int(id)*hidden:(int(id)+1)*hidden])
	}

	result, err := NewTensor([]int{batch, seq, hidden}, Float32, out)
	if err != nil {
		return nil, err
	}

	record(op, result, []*Tensor{weight})
	return result, nil
}

func (op *EmbeddingOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	weight, ids := op.inputs[0], op.inputs[1]
	hidden := weight.Shape[1]
	idsData := ids.Data.([]int32)
	gradOutData := gradOut.Data.([]float32)

	gradWeight, err := Zeros(weight.Shape, Float32)
	if err != nil {
		return nil, err
	}
	gradData := gradWeight.Data.([]float32)
	for i, id := range idsData {
		dst := gradData[int(id)*hidden : (int(id)+1)*hidden]
		src := gradOutData[i*hidden : (i+1)*hidden]
		for j := range dst {
			dst[j] += src[j]
		}
	}

	return []*Tensor{gradWeight, nil}, nil
}

// MaskedMeanOp pools [batch, seq, hidden] to [batch, hidden] by
// averaging positions whose attention mask is 1. A row with an all-zero
// mask (an empty input text) pools to the zero vector instead of
// failing.
type MaskedMeanOp struct {
	inputs []*Tensor
}

func (op *MaskedMeanOp) Inputs() []*Tensor { return op.inputs }

func (op *MaskedMeanOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("MaskedMeanOp requires exactly 2 inputs")
	}
	x, mask := inputs[0], inputs[1]
	if len(x.Shape) != 3 {
		return nil, fmt.Errorf("MaskedMeanOp input must be [batch, seq, hidden], got %v", x.Shape)
	}
	if mask.DType != Int32 || len(mask.Shape) != 2 || mask.Shape[0] != x.Shape[0] || mask.Shape[1] != x.Shape[1] {
		return nil, fmt.Errorf("attention mask shape %v does not match input %v", mask.Shape, x.Shape)
	}
	op.inputs = inputs

	batch, seq, hidden := x.Shape[0], x.Shape[1], x.Shape[2]
	xData := x.Data.([]float32)
	maskData := mask.Data.([]int32)

	out := make([]float32, batch*hidden)
	for i := 0; i < batch; i++ {
		var count float32
		for j := 0; j < seq; j++ {
			if maskData[i*seq+j] == 0 {
				continue
			}
			count++
			row := xData[(i*seq+j)*hidden : (i*seq+j+1)*hidden]
			dst := out[i*hidden : (i+1)*hidden]
			for k := range dst {
				dst[k] += row[k]
			}
		}
		if count > 0 {
			dst := out[i*hidden : (i+1)*hidden]
			for k := range dst {
				dst[k] /= count
			}
		}
	}

	result, err := NewTensor([]int{batch, hidden}, Float32, out)
	if err != nil {
		return nil, err
	}

	record(op, result, []*Tensor{x})
	return result, nil
}

func (op *MaskedMeanOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	x, mask := op.inputs[0], op.inputs[1]
	batch, seq, hidden := x.Shape[0], x.Shape[1], x.Shape[2]
	maskData := mask.Data.([]int32)
	gradOutData := gradOut.Data.([]float32)

	gradX, err := Zeros(x.Shape, Float32)
	if err != nil {
		return nil, err
	}
	gradData := gradX.Data.([]float32)
	for i := 0; i < batch; i++ {
		var count float32
		for j := 0; j < seq; j++ {
			if maskData[i*seq+j] == 1 {
				count++
			}
		}
		if count == 0 {
			continue
		}
		for j := 0; j < seq; j++ {
			if maskData[i*seq+j] == 0 {
				continue
			}
			dst := gradData[(i*seq+j)*hidden : (i*seq+j+1)*hidden]
			src := gradOutData[i*hidden : (i+1)*hidden]
			for k := range dst {
				dst[k] = src[k] / count
			}
		}
	}

	return []*Tensor{gradX, nil}, nil
}

// LayerNormOp normalizes each row of a [batch, features] tensor to zero
// mean and unit variance, then applies the gamma scale and beta shift.
type LayerNormOp struct {
	inputs []*Tensor
	eps    float32
	xhat   []float32
	sigma  []float32
}

func (op *LayerNormOp) Inputs() []*Tensor { return op.inputs }

func (op *LayerNormOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 3 {
		return nil, fmt.Errorf("LayerNormOp requires exactly 3 inputs")
	}
	x, gamma, beta := inputs[0], inputs[1], inputs[2]
	if len(x.Shape) != 2 {
		return nil, fmt.Errorf("LayerNormOp input must be [batch, features], got %v", x.Shape)
	}
	features := x.Shape[1]
	if len(gamma.Shape) != 1 || gamma.Shape[0] != features || len(beta.Shape) != 1 || beta.Shape[0] != features {
		return nil, fmt.Errorf("gamma/beta must be [features] tensors of size %d", features)
	}
	op.inputs = inputs
	if op.eps == 0 {
		op.eps = 1e-5
	}

	batch := x.Shape[0]
	xData := x.Data.([]float32)
	gammaData := gamma.Data.([]float32)
	betaData := beta.Data.([]float32)

	op.xhat = make([]float32, len(xData))
	op.sigma = make([]float32, batch)
	out := make([]float32, len(xData))

	for i := 0; i < batch; i++ {
		row := xData[i*features : (i+1)*features]

		var mean float32
		for _, v := range row {
			mean += v
		}
		mean /= float32(features)

		var variance float32
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
		variance /= float32(features)

		sigma := sqrt32(variance + op.eps)
		op.sigma[i] = sigma

		for j, v := range row {
			xhat := (v - mean) / sigma
			op.xhat[i*features+j] = xhat
			out[i*features+j] = gammaData[j]*xhat + betaData[j]
		}
	}

	result, err := NewTensor(x.Shape, Float32, out)
	if err != nil {
		return nil, err
	}

	record(op, result, inputs)
	return result, nil
}

func (op *LayerNormOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	x, gamma := op.inputs[0], op.inputs[1]
	batch, features := x.Shape[0], x.Shape[1]
	gammaData := gamma.Data.([]float32)
	gradOutData := gradOut.Data.([]float32)

	gradX, err := Zeros(x.Shape, Float32)
	if err != nil {
		return nil, err
	}
	gradGamma, err := Zeros(gamma.Shape, Float32)
	if err != nil {
		return nil, err
	}
	gradBeta, err := Zeros(gamma.Shape, Float32)
	if err != nil {
		return nil, err
	}

	gradXData := gradX.Data.([]float32)
	gradGammaData := gradGamma.Data.([]float32)
	gradBetaData := gradBeta.Data.([]float32)

	for i := 0; i < batch; i++ {
		// Per-row means of g*gamma and g*gamma*xhat close the
		// normalization chain rule.
		var meanG, meanGX float32
		for j := 0; j < features; j++ {
			idx := i*features + j
			g := gradOutData[idx] * gammaData[j]
			meanG += g
			meanGX += g * op.xhat[idx]
		}
		meanG /= float32(features)
		meanGX /= float32(features)

		for j := 0; j < features; j++ {
			idx := i*features + j
			g := gradOutData[idx] * gammaData[j]
			gradXData[idx] = (g - meanG - op.xhat[idx]*meanGX) / op.sigma[i]
			gradGammaData[j] += gradOutData[idx] * op.xhat[idx]
			gradBetaData[j] += gradOutData[idx]
		}
	}

	return []*Tensor{gradX, gradGamma, gradBeta}, nil
}

// DropoutOp zeroes activations with probability p during training and
// rescales survivors by 1/(1-p) so expectations match evaluation mode.
type DropoutOp struct {
	inputs []*Tensor
	mask   []float32
	p      float64
}

func (op *DropoutOp) Inputs() []*Tensor { return op.inputs }

func (op *DropoutOp) forwardWithRand(x *Tensor, p float64, rng *rand.Rand) (*Tensor, error) {
	if p < 0 || p >= 1 {
		return nil, fmt.Errorf("dropout probability must be in [0, 1), got %v", p)
	}
	if rng == nil {
		return nil, fmt.Errorf("dropout requires a random source")
	}
	op.inputs = []*Tensor{x}
	op.p = p

	xData, err := x.GetFloat32Data()
	if err != nil {
		return nil, err
	}

	scale := float32(1.0 / (1.0 - p))
	op.mask = make([]float32, len(xData))
	out := make([]float32, len(xData))
	for i, v := range xData {
		if rng.Float64() >= p {
			op.mask[i] = scale
			out[i] = v * scale
		}
	}

	result, err := NewTensor(x.Shape, Float32, out)
	if err != nil {
		return nil, err
	}

	record(op, result, op.inputs)
	return result, nil
}

func (op *DropoutOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	return nil, fmt.Errorf("DropoutOp must be invoked through DropoutAutograd")
}

func (op *DropoutOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	gradOutData := gradOut.Data.([]float32)
	grad := make([]float32, len(gradOutData))
	for i := range grad {
		grad[i] = gradOutData[i] * op.mask[i]
	}

	g, err := NewTensor(gradOut.Shape, Float32, grad)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// Autograd entry points.

func AddAutograd(a, b *Tensor) (*Tensor, error) {
	op := &AddOp{}
	return op.Forward(a, b)
}

func AddBiasAutograd(x, bias *Tensor) (*Tensor, error) {
	op := &AddBiasOp{}
	return op.Forward(x, bias)
}

func MulAutograd(a, b *Tensor) (*Tensor, error) {
	op := &MulOp{}
	return op.Forward(a, b)
}

func MatMulAutograd(a, b *Tensor) (*Tensor, error) {
	op := &MatMulOp{}
	return op.Forward(a, b)
}

func ReLUAutograd(a *Tensor) (*Tensor, error) {
	op := &ReLUOp{}
	return op.Forward(a)
}

func SigmoidAutograd(a *Tensor) (*Tensor, error) {
	op := &SigmoidOp{}
	return op.Forward(a)
}

func TanhAutograd(a *Tensor) (*Tensor, error) {
	op := &TanhOp{}
	return op.Forward(a)
}

func EmbeddingAutograd(weight, ids *Tensor) (*Tensor, error) {
	op := &EmbeddingOp{}
	return op.Forward(weight, ids)
}

func MaskedMeanAutograd(x, mask *Tensor) (*Tensor, error) {
	op := &MaskedMeanOp{}
	return op.Forward(x, mask)
}

func LayerNormAutograd(x, gamma, beta *Tensor, eps float32) (*Tensor, error) {
	op := &LayerNormOp{eps: eps}
	return op.Forward(x, gamma, beta)
}

func DropoutAutograd(x *Tensor, p float64, rng *rand.Rand) (*Tensor, error) {
	op := &DropoutOp{}
	return op.forwardWithRand(x, p, rng)
}
