package training

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tsawler/piilabel/dataset"
	"github.com/tsawler/piilabel/layers"
)

func TestTrainerReducesLoss(t *testing.T) {
	labels := []string{"a", "b"}
	model := makeModel(t, 11, labels)
	d := makeSyntheticData(t, 64, 6, labels, 12)

	loader, err := dataset.NewDataLoader(d, nil, 8, true, rand.New(rand.NewSource(13)))
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}

	opt, err := NewAdamW(model.Parameters(), AdamWConfig{
		LearningRate: 0.01,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.01,
	})
	if err != nil {
		t.Fatalf("NewAdamW failed: %v", err)
	}

	ctx, _ := NewSingleDevice(model)
	trainer, err := NewTrainer(ctx, opt, 5, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewTrainer failed: %v", err)
	}

	stats, err := trainer.Train(loader)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	if len(stats) != 5 {
		t.Fatalf("Expected 5 epochs of stats, got %d", len(stats))
	}
	if stats[0].Batches != 8 {
		t.Errorf("Expected 8 batches per epoch, got %d", stats[0].Batches)
	}
	if stats[4].AverageLoss >= stats[0].AverageLoss {
		t.Errorf("Loss should decrease over training: first %v, last %v",
			stats[0].AverageLoss, stats[4].AverageLoss)
	}
}

// nanCompute simulates a numerically diverged batch.
type nanCompute struct {
	model *layers.Classifier
}

func (n *nanCompute) Model() *layers.Classifier { return n.model }
func (n *nanCompute) ReplicaCount() int         { return 1 }
func (n *nanCompute) RunBatch(*BCEWithLogitsLoss, *dataset.Batch) (float64, error) {
	return math.NaN(), nil
}

func TestTrainerStopsOnNonFiniteLoss(t *testing.T) {
	labels := []string{"a"}
	model := makeModel(t, 15, labels)
	d := makeSyntheticData(t, 8, 4, labels, 16)

	loader, _ := dataset.NewDataLoader(d, nil, 4, false, nil)
	opt, _ := NewAdamW(model.Parameters(), DefaultAdamWConfig())

	trainer, err := NewTrainer(&nanCompute{model: model}, opt, 3, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewTrainer failed: %v", err)
	}

	_, err = trainer.Train(loader)
	var instability *NumericInstabilityError
	if !errors.As(err, &instability) {
		t.Fatalf("Expected NumericInstabilityError, got %v", err)
	}
	if instability.Epoch != 1 || instability.Batch != 0 {
		t.Errorf("Expected failure at epoch 1 batch 0, got epoch %d batch %d",
			instability.Epoch, instability.Batch)
	}

	// The optimizer must not have stepped on the poisoned gradient.
	if opt.StepCount() != 0 {
		t.Errorf("Expected no optimizer steps, got %d", opt.StepCount())
	}
}

func TestNewTrainerValidation(t *testing.T) {
	model := makeModel(t, 1, []string{"a"})
	ctx, _ := NewSingleDevice(model)
	opt, _ := NewAdamW(model.Parameters(), DefaultAdamWConfig())

	if _, err := NewTrainer(nil, opt, 1, zerolog.Nop()); err == nil {
		t.Error("Expected error for nil compute context")
	}
	if _, err := NewTrainer(ctx, nil, 1, zerolog.Nop()); err == nil {
		t.Error("Expected error for nil optimizer")
	}
	if _, err := NewTrainer(ctx, opt, 0, zerolog.Nop()); err == nil {
		t.Error("Expected error for zero epochs")
	}
}
