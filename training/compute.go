package training

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/tsawler/piilabel/dataset"
	"github.com/tsawler/piilabel/layers"
	"github.com/tsawler/piilabel/tensor"
)

// ComputeContext abstracts where a batch's forward and backward passes
// run. The trainer only ever talks to the primary model; a context with
// replicas is responsible for keeping them in sync and reducing their
// gradients back onto the primary's parameters before RunBatch returns.
type ComputeContext interface {
	// Model returns the primary model, the one the optimizer updates
	// and checkpoints snapshot.
	Model() *layers.Classifier

	// ReplicaCount reports how many model copies process each batch.
	ReplicaCount() int

	// RunBatch performs forward and backward for one batch and returns
	// the mean elementwise loss. Gradients land on the primary model's
	// parameters; the caller zeroes them beforehand and steps the
	// optimizer afterwards.
	RunBatch(loss *BCEWithLogitsLoss, batch *dataset.Batch) (float64, error)
}

// SingleDevice runs every batch on one model copy.
type SingleDevice struct {
	model *layers.Classifier
}

func NewSingleDevice(model *layers.Classifier) (*SingleDevice, error) {
	if model == nil {
		return nil, fmt.Errorf("compute context requires a model")
	}
	return &SingleDevice{model: model}, nil
}

func (s *SingleDevice) Model() *layers.Classifier {
	return s.model
}

func (s *SingleDevice) ReplicaCount() int {
	return 1
}

func (s *SingleDevice) RunBatch(loss *BCEWithLogitsLoss, batch *dataset.Batch) (float64, error) {
	logits, err := s.model.Forward(batch.InputIDs, batch.AttentionMask)
	if err != nil {
		return 0, err
	}

	lossVal, err := loss.Forward(logits, batch.Labels)
	if err != nil {
		return 0, err
	}

	grad, err := loss.Grad(logits, batch.Labels)
	if err != nil {
		return 0, err
	}
	if err := logits.Backward(grad); err != nil {
		return 0, err
	}

	return float64(lossVal), nil
}

// DataParallel splits each batch across model replicas and runs them
// concurrently. Replica 0 is the primary; the others are clones whose
// weights are refreshed from the primary at the start of every batch
// and whose gradients are summed into the primary afterwards. Because
// every shard divides its logit gradient by the full batch's cell
// count, the reduced gradients match a single-replica run exactly.
type DataParallel struct {
	primary *layers.Classifier
	clones  []*layers.Classifier

	mu sync.Mutex
}

// NewDataParallel builds a context with the given replica count.
// Dropout sources for the clones are derived from rng, so replicated
// runs are reproducible even though replicas draw independent masks.
func NewDataParallel(model *layers.Classifier, replicas int, rng *rand.Rand) (*DataParallel, error) {
	if model == nil {
		return nil, fmt.Errorf("compute context requires a model")
	}
	if replicas < 1 {
		return nil, fmt.Errorf("replica count must be at least 1, got %d", replicas)
	}
	if replicas > 1 && rng == nil {
		return nil, fmt.Errorf("replication requires a random source for the clones")
	}

	dp := &DataParallel{primary: model}
	for i := 1; i < replicas; i++ {
		clone, err := model.Clone(rand.New(rand.NewSource(rng.Int63())))
		if err != nil {
			return nil, fmt.Errorf("failed to build replica %d: %v", i, err)
		}
		dp.clones = append(dp.clones, clone)
	}

	return dp, nil
}

func (d *DataParallel) Model() *layers.Classifier {
	return d.primary
}

func (d *DataParallel) ReplicaCount() int {
	return 1 + len(d.clones)
}

func (d *DataParallel) RunBatch(loss *BCEWithLogitsLoss, batch *dataset.Batch) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	shards, err := splitBatch(batch, d.ReplicaCount())
	if err != nil {
		return 0, err
	}

	replicas := append([]*layers.Classifier{d.primary}, d.clones...)
	totalCells := batch.Labels.NumElems

	// Refresh clone weights from the primary and match its mode. Only
	// as many replicas as there are shards take part this batch.
	for i := 1; i < len(shards); i++ {
		if err := syncWeights(replicas[i], d.primary); err != nil {
			return 0, err
		}
		if d.primary.IsTraining() {
			replicas[i].Train()
		} else {
			replicas[i].Eval()
		}
		tensor.ZeroGrad(layers.Tensors(replicas[i].Parameters()))
	}

	sums := make([]float64, len(shards))
	p := pool.New().WithErrors()
	for i := range shards {
		i := i
		shard := shards[i]
		replica := replicas[i]
		p.Go(func() error {
			logits, err := replica.Forward(shard.InputIDs, shard.AttentionMask)
			if err != nil {
				return err
			}

			sum, err := loss.SumUnscaled(logits, shard.Labels)
			if err != nil {
				return err
			}
			sums[i] = sum

			grad, err := loss.GradScaled(logits, shard.Labels, totalCells)
			if err != nil {
				return err
			}
			return logits.Backward(grad)
		})
	}
	if err := p.Wait(); err != nil {
		return 0, err
	}

	// Reduce clone gradients into the primary.
	primaryParams := d.primary.Parameters()
	for i := 1; i < len(shards); i++ {
		cloneParams := replicas[i].Parameters()
		for j, param := range cloneParams {
			grad := param.Tensor.Grad()
			if grad == nil {
				continue
			}
			if err := primaryParams[j].Tensor.AccumulateGrad(grad); err != nil {
				return 0, fmt.Errorf("failed to reduce gradient of %s: %v", param.Name, err)
			}
		}
	}

	var total float64
	for _, s := range sums {
		total += s
	}
	return total / float64(totalCells), nil
}

// syncWeights copies the primary's parameter values into a clone.
func syncWeights(dst, src *layers.Classifier) error {
	dstParams := dst.Parameters()
	srcParams := src.Parameters()
	if len(dstParams) != len(srcParams) {
		return fmt.Errorf("replica parameter count mismatch: %d vs %d", len(dstParams), len(srcParams))
	}
	for i, sp := range srcParams {
		srcData, err := sp.Tensor.GetFloat32Data()
		if err != nil {
			return err
		}
		dstData, err := dstParams[i].Tensor.GetFloat32Data()
		if err != nil {
			return err
		}
		copy(dstData, srcData)
	}
	return nil
}

// splitBatch carves a batch into up to n contiguous shards. Batches
// smaller than the replica count yield fewer shards.
func splitBatch(batch *dataset.Batch, n int) ([]*dataset.Batch, error) {
	rows := batch.Size()
	if n > rows {
		n = rows
	}

	seqLen := batch.InputIDs.Shape[1]
	numLabels := batch.Labels.Shape[1]

	ids, err := batch.InputIDs.GetInt32Data()
	if err != nil {
		return nil, err
	}
	mask, err := batch.AttentionMask.GetInt32Data()
	if err != nil {
		return nil, err
	}
	labels, err := batch.Labels.GetFloat32Data()
	if err != nil {
		return nil, err
	}

	shards := make([]*dataset.Batch, 0, n)
	base := rows / n
	extra := rows % n
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		end := start + size

		idTensor, err := tensor.NewTensor([]int{size, seqLen}, tensor.Int32, ids[start*seqLen:end*seqLen])
		if err != nil {
			return nil, err
		}
		maskTensor, err := tensor.NewTensor([]int{size, seqLen}, tensor.Int32, mask[start*seqLen:end*seqLen])
		if err != nil {
			return nil, err
		}
		labelTensor, err := tensor.NewTensor([]int{size, numLabels}, tensor.Float32, labels[start*numLabels:end*numLabels])
		if err != nil {
			return nil, err
		}

		shards = append(shards, &dataset.Batch{
			InputIDs:      idTensor,
			AttentionMask: maskTensor,
			Labels:        labelTensor,
		})
		start = end
	}

	return shards, nil
}
