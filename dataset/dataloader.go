package dataset

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/piilabel/tensor"
)

// Batch is one training or evaluation step's worth of samples. The last
// batch of an epoch may hold fewer rows than the configured batch size.
type Batch struct {
	InputIDs      *tensor.Tensor
	AttentionMask *tensor.Tensor
	Labels        *tensor.Tensor
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	return b.InputIDs.Shape[0]
}

// DataLoader serves dataset rows in batches, optionally reshuffling the
// visiting order at every Reset. A loader restricted to an index subset
// is how the train/validation partition is consumed: both loaders share
// one dataset and never copy it.
type DataLoader struct {
	dataset   *Dataset
	indices   []int
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	position  int
}

// NewDataLoader creates a loader over the given index subset. A nil
// indices slice means the whole dataset. Shuffling requires a random
// source; equal seeds replay identical epoch orders.
func NewDataLoader(d *Dataset, indices []int, batchSize int, shuffle bool, rng *rand.Rand) (*DataLoader, error) {
	if d == nil {
		return nil, fmt.Errorf("dataloader requires a dataset")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if shuffle && rng == nil {
		return nil, fmt.Errorf("shuffling requires a random source")
	}

	if indices == nil {
		indices = make([]int, d.Len())
		for i := range indices {
			indices[i] = i
		}
	} else {
		for _, idx := range indices {
			if idx < 0 || idx >= d.Len() {
				return nil, fmt.Errorf("index %d out of range for dataset of %d samples", idx, d.Len())
			}
		}
		indices = append([]int(nil), indices...)
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("dataloader requires at least one sample")
	}

	dl := &DataLoader{
		dataset:   d,
		indices:   indices,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rng,
	}
	dl.Reset()
	return dl, nil
}

// Reset rewinds the loader and, when shuffling is enabled, draws a new
// visiting order for the next epoch.
func (dl *DataLoader) Reset() {
	dl.position = 0
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// HasNext reports whether the current epoch has batches remaining.
func (dl *DataLoader) HasNext() bool {
	return dl.position < len(dl.indices)
}

// Len returns the number of samples the loader covers.
func (dl *DataLoader) Len() int {
	return len(dl.indices)
}

// NumBatches returns the number of batches per epoch, counting a final
// partial batch.
func (dl *DataLoader) NumBatches() int {
	return (len(dl.indices) + dl.batchSize - 1) / dl.batchSize
}

// Next returns the next batch of the current epoch.
func (dl *DataLoader) Next() (*Batch, error) {
	if !dl.HasNext() {
		return nil, fmt.Errorf("epoch exhausted; call Reset to start another")
	}

	end := dl.position + dl.batchSize
	if end > len(dl.indices) {
		end = len(dl.indices)
	}
	rows := dl.indices[dl.position:end]
	dl.position = end

	return dl.gather(rows)
}

// Iterator streams the remaining batches of the current epoch over a
// channel. A row-gathering error stops the stream early.
func (dl *DataLoader) Iterator() <-chan *Batch {
	ch := make(chan *Batch)
	go func() {
		defer close(ch)
		for dl.HasNext() {
			batch, err := dl.Next()
			if err != nil {
				return
			}
			ch <- batch
		}
	}()
	return ch
}

func (dl *DataLoader) gather(rows []int) (*Batch, error) {
	seqLen := dl.dataset.SeqLen()
	numLabels := dl.dataset.NumLabels()

	srcIDs, err := dl.dataset.InputIDs.GetInt32Data()
	if err != nil {
		return nil, err
	}
	srcMask, err := dl.dataset.AttentionMask.GetInt32Data()
	if err != nil {
		return nil, err
	}
	srcLabels, err := dl.dataset.Labels.GetFloat32Data()
	if err != nil {
		return nil, err
	}

	ids := make([]int32, len(rows)*seqLen)
	mask := make([]int32, len(rows)*seqLen)
	labels := make([]float32, len(rows)*numLabels)
	for i, row := range rows {
		copy(ids[i*seqLen:], srcIDs[row*seqLen:(row+1)*seqLen])
		copy(mask[i*seqLen:], srcMask[row*seqLen:(row+1)*seqLen])
		copy(labels[i*numLabels:], srcLabels[row*numLabels:(row+1)*numLabels])
	}

	idTensor, err := tensor.NewTensor([]int{len(rows), seqLen}, tensor.Int32, ids)
	if err != nil {
		return nil, err
	}
	maskTensor, err := tensor.NewTensor([]int{len(rows), seqLen}, tensor.Int32, mask)
	if err != nil {
		return nil, err
	}
	labelTensor, err := tensor.NewTensor([]int{len(rows), numLabels}, tensor.Float32, labels)
	if err != nil {
		return nil, err
	}

	return &Batch{
		InputIDs:      idTensor,
		AttentionMask: maskTensor,
		Labels:        labelTensor,
	}, nil
}
