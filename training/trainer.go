package training

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/tsawler/piilabel/dataset"
)

// EpochStats summarizes one training epoch.
type EpochStats struct {
	Epoch       int     `json:"epoch"`
	AverageLoss float64 `json:"average_loss"`
	Batches     int     `json:"batches"`
}

// Trainer drives the epoch/batch loop: zero gradients, run the batch
// through the compute context, step the optimizer. A non-finite loss
// aborts the run with a NumericInstabilityError.
type Trainer struct {
	compute   ComputeContext
	optimizer *AdamW
	loss      *BCEWithLogitsLoss
	epochs    int
	logger    zerolog.Logger
}

func NewTrainer(compute ComputeContext, optimizer *AdamW, epochs int, logger zerolog.Logger) (*Trainer, error) {
	if compute == nil {
		return nil, fmt.Errorf("trainer requires a compute context")
	}
	if optimizer == nil {
		return nil, fmt.Errorf("trainer requires an optimizer")
	}
	if epochs <= 0 {
		return nil, fmt.Errorf("epoch count must be positive, got %d", epochs)
	}

	return &Trainer{
		compute:   compute,
		optimizer: optimizer,
		loss:      NewBCEWithLogitsLoss(),
		epochs:    epochs,
		logger:    logger,
	}, nil
}

// Train runs the configured number of epochs over the loader and
// returns per-epoch statistics. Every epoch resets the loader, which
// reshuffles when the loader was built with shuffling.
func (t *Trainer) Train(loader *dataset.DataLoader) ([]EpochStats, error) {
	model := t.compute.Model()
	model.Train()

	t.logger.Info().
		Int("epochs", t.epochs).
		Int("samples", loader.Len()).
		Int("batches_per_epoch", loader.NumBatches()).
		Int("replicas", t.compute.ReplicaCount()).
		Msg("starting training")

	stats := make([]EpochStats, 0, t.epochs)
	for epoch := 1; epoch <= t.epochs; epoch++ {
		loader.Reset()

		var epochLoss float64
		batches := 0
		for loader.HasNext() {
			batch, err := loader.Next()
			if err != nil {
				return stats, err
			}

			t.optimizer.ZeroGrad()

			batchLoss, err := t.compute.RunBatch(t.loss, batch)
			if err != nil {
				return stats, err
			}
			if math.IsNaN(batchLoss) || math.IsInf(batchLoss, 0) {
				return stats, &NumericInstabilityError{Epoch: epoch, Batch: batches, Loss: batchLoss}
			}

			if err := t.optimizer.Step(); err != nil {
				return stats, err
			}

			epochLoss += batchLoss
			batches++
		}

		epochStats := EpochStats{
			Epoch:       epoch,
			AverageLoss: epochLoss / float64(batches),
			Batches:     batches,
		}
		stats = append(stats, epochStats)

		t.logger.Info().
			Int("epoch", epoch).
			Float64("loss", epochStats.AverageLoss).
			Int("batches", batches).
			Msg("epoch complete")
	}

	return stats, nil
}
