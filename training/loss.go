package training

import (
	"fmt"
	"math"

	"github.com/tsawler/piilabel/tensor"
)

// BCEWithLogitsLoss is binary cross-entropy applied elementwise to a
// multi-label logit matrix, averaged over every (sample, label) cell.
// It fuses the sigmoid into the loss using the log-sum-exp form
//
//	max(x, 0) - x*y + log(1 + exp(-|x|))
//
// which stays finite for logits of any magnitude.
type BCEWithLogitsLoss struct{}

func NewBCEWithLogitsLoss() *BCEWithLogitsLoss {
	return &BCEWithLogitsLoss{}
}

func checkLossInputs(logits, targets *tensor.Tensor) error {
	if logits.DType != tensor.Float32 || targets.DType != tensor.Float32 {
		return fmt.Errorf("loss requires Float32 tensors")
	}
	if len(logits.Shape) != 2 {
		return fmt.Errorf("loss expects [batch, labels] logits, got %v", logits.Shape)
	}
	if !tensorShapesEqual(logits.Shape, targets.Shape) {
		return fmt.Errorf("logits shape %v does not match targets shape %v", logits.Shape, targets.Shape)
	}
	return nil
}

func tensorShapesEqual(a, b []int) bool {
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

// Forward returns the mean elementwise loss.
func (l *BCEWithLogitsLoss) Forward(logits, targets *tensor.Tensor) (float32, error) {
	if err := checkLossInputs(logits, targets); err != nil {
		return 0, err
	}

	x := logits.Data.([]float32)
	y := targets.Data.([]float32)

	var total float64
	for i := range x {
		xi := float64(x[i])
		yi := float64(y[i])
		total += math.Max(xi, 0) - xi*yi + math.Log1p(math.Exp(-math.Abs(xi)))
	}

	return float32(total / float64(len(x))), nil
}

// Grad returns dLoss/dLogits, which for the mean elementwise loss is
// (sigmoid(x) - y) / N with N the total cell count.
func (l *BCEWithLogitsLoss) Grad(logits, targets *tensor.Tensor) (*tensor.Tensor, error) {
	return l.GradScaled(logits, targets, logits.NumElems)
}

// GradScaled computes the logit gradient with an explicit mean divisor.
// Replicated training uses this to make shard gradients sum to exactly
// the gradient of the whole batch: each shard divides by the full
// batch's cell count rather than its own.
func (l *BCEWithLogitsLoss) GradScaled(logits, targets *tensor.Tensor, totalCells int) (*tensor.Tensor, error) {
	if err := checkLossInputs(logits, targets); err != nil {
		return nil, err
	}
	if totalCells <= 0 {
		return nil, fmt.Errorf("total cell count must be positive, got %d", totalCells)
	}

	x := logits.Data.([]float32)
	y := targets.Data.([]float32)
	grad := make([]float32, len(x))
	n := float32(totalCells)
	for i := range x {
		s := float32(1.0 / (1.0 + math.Exp(-float64(x[i]))))
		grad[i] = (s - y[i]) / n
	}

	return tensor.NewTensor(logits.Shape, tensor.Float32, grad)
}

// SumUnscaled returns the summed (not averaged) elementwise loss.
// Replicated training sums shard losses and divides once by the full
// batch's cell count.
func (l *BCEWithLogitsLoss) SumUnscaled(logits, targets *tensor.Tensor) (float64, error) {
	if err := checkLossInputs(logits, targets); err != nil {
		return 0, err
	}

	x := logits.Data.([]float32)
	y := targets.Data.([]float32)
	var total float64
	for i := range x {
		xi := float64(x[i])
		yi := float64(y[i])
		total += math.Max(xi, 0) - xi*yi + math.Log1p(math.Exp(-math.Abs(xi)))
	}
	return total, nil
}
