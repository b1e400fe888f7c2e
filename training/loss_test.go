package training

import (
	"math"
	"testing"

	"github.com/tsawler/piilabel/tensor"
)

func TestBCEWithLogitsForward(t *testing.T) {
	loss := NewBCEWithLogitsLoss()

	t.Run("Matches direct formula", func(t *testing.T) {
		logits, _ := tensor.NewTensor([]int{1, 2}, tensor.Float32, []float32{0.5, -1.2})
		targets, _ := tensor.NewTensor([]int{1, 2}, tensor.Float32, []float32{1, 0})

		got, err := loss.Forward(logits, targets)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}

		var want float64
		for i, x := range []float64{0.5, -1.2} {
			y := []float64{1, 0}[i]
			s := 1 / (1 + math.Exp(-x))
			want += -(y*math.Log(s) + (1-y)*math.Log(1-s))
		}
		want /= 2

		if math.Abs(float64(got)-want) > 1e-5 {
			t.Errorf("Expected %v, got %v", want, got)
		}
	})

	t.Run("Stable for extreme logits", func(t *testing.T) {
		logits, _ := tensor.NewTensor([]int{1, 2}, tensor.Float32, []float32{100, -100})
		targets, _ := tensor.NewTensor([]int{1, 2}, tensor.Float32, []float32{0, 1})

		got, err := loss.Forward(logits, targets)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if math.IsNaN(float64(got)) || math.IsInf(float64(got), 0) {
			t.Errorf("Loss should stay finite for extreme logits, got %v", got)
		}
		// Both cells are maximally wrong, so each contributes ~|x|.
		if math.Abs(float64(got)-100) > 1e-3 {
			t.Errorf("Expected ~100, got %v", got)
		}
	})

	t.Run("Perfect confident predictions give near-zero loss", func(t *testing.T) {
		logits, _ := tensor.NewTensor([]int{1, 2}, tensor.Float32, []float32{20, -20})
		targets, _ := tensor.NewTensor([]int{1, 2}, tensor.Float32, []float32{1, 0})

		got, _ := loss.Forward(logits, targets)
		if got > 1e-6 {
			t.Errorf("Expected near-zero loss, got %v", got)
		}
	})

	t.Run("Shape mismatch", func(t *testing.T) {
		logits, _ := tensor.NewTensor([]int{1, 2}, tensor.Float32, []float32{0, 0})
		targets, _ := tensor.NewTensor([]int{1, 3}, tensor.Float32, []float32{0, 0, 0})
		if _, err := loss.Forward(logits, targets); err == nil {
			t.Error("Expected error for shape mismatch")
		}
	})
}

func TestBCEWithLogitsGrad(t *testing.T) {
	loss := NewBCEWithLogitsLoss()

	logits, _ := tensor.NewTensor([]int{2, 2}, tensor.Float32, []float32{0.3, -0.7, 1.5, 0})
	targets, _ := tensor.NewTensor([]int{2, 2}, tensor.Float32, []float32{1, 0, 0, 1})

	grad, err := loss.Grad(logits, targets)
	if err != nil {
		t.Fatalf("Grad failed: %v", err)
	}

	// Central finite difference on each logit.
	const eps = 1e-3
	data := logits.Data.([]float32)
	gradData := grad.Data.([]float32)
	for i := range data {
		orig := data[i]
		data[i] = orig + eps
		plus, _ := loss.Forward(logits, targets)
		data[i] = orig - eps
		minus, _ := loss.Forward(logits, targets)
		data[i] = orig

		numeric := float64(plus-minus) / (2 * eps)
		if math.Abs(numeric-float64(gradData[i])) > 1e-3 {
			t.Errorf("Gradient mismatch at %d: numeric %v, analytic %v", i, numeric, gradData[i])
		}
	}
}

func TestBCEWithLogitsGradScaled(t *testing.T) {
	loss := NewBCEWithLogitsLoss()

	logits, _ := tensor.NewTensor([]int{1, 2}, tensor.Float32, []float32{0.5, -0.5})
	targets, _ := tensor.NewTensor([]int{1, 2}, tensor.Float32, []float32{1, 0})

	full, err := loss.Grad(logits, targets)
	if err != nil {
		t.Fatalf("Grad failed: %v", err)
	}
	scaled, err := loss.GradScaled(logits, targets, 4)
	if err != nil {
		t.Fatalf("GradScaled failed: %v", err)
	}

	fullData := full.Data.([]float32)
	scaledData := scaled.Data.([]float32)
	for i := range fullData {
		// Doubling the divisor halves the gradient.
		if math.Abs(float64(fullData[i]/2-scaledData[i])) > 1e-7 {
			t.Errorf("Expected %v, got %v", fullData[i]/2, scaledData[i])
		}
	}

	if _, err := loss.GradScaled(logits, targets, 0); err == nil {
		t.Error("Expected error for non-positive cell count")
	}
}
