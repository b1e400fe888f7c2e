package training

import (
	"math"
	"math/rand"
	"testing"

	"github.com/tsawler/piilabel/dataset"
	"github.com/tsawler/piilabel/layers"
	"github.com/tsawler/piilabel/tensor"
)

// makeModel builds a small classifier with dropout disabled so runs
// are bit-for-bit repeatable.
func makeModel(t *testing.T, seed int64, labels []string) *layers.Classifier {
	t.Helper()
	model, err := layers.NewClassifier(layers.Config{
		VocabSize:  16,
		HiddenSize: 8,
		Dropout:    0,
	}, labels, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}
	return model
}

// makeSyntheticData builds a dataset where label j is set exactly when
// token id j+1 appears in the sequence, a pattern a small model can
// learn quickly.
func makeSyntheticData(t *testing.T, n, seqLen int, labelNames []string, seed int64) *dataset.Dataset {
	t.Helper()

	rng := rand.New(rand.NewSource(seed))
	numLabels := len(labelNames)

	ids := make([]int32, n*seqLen)
	mask := make([]int32, n*seqLen)
	labels := make([]float32, n*numLabels)
	for i := 0; i < n; i++ {
		for j := 0; j < seqLen; j++ {
			ids[i*seqLen+j] = int32(rng.Intn(15)) + 1
			mask[i*seqLen+j] = 1
		}
		for l := 0; l < numLabels; l++ {
			for j := 0; j < seqLen; j++ {
				if ids[i*seqLen+j] == int32(l+1) {
					labels[i*numLabels+l] = 1
					break
				}
			}
		}
	}

	idTensor, _ := tensor.NewTensor([]int{n, seqLen}, tensor.Int32, ids)
	maskTensor, _ := tensor.NewTensor([]int{n, seqLen}, tensor.Int32, mask)
	labelTensor, _ := tensor.NewTensor([]int{n, numLabels}, tensor.Float32, labels)

	d, err := dataset.New(idTensor, maskTensor, labelTensor, labelNames)
	if err != nil {
		t.Fatalf("dataset.New failed: %v", err)
	}
	return d
}

func firstBatch(t *testing.T, d *dataset.Dataset, batchSize int) *dataset.Batch {
	t.Helper()
	dl, err := dataset.NewDataLoader(d, nil, batchSize, false, nil)
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}
	batch, err := dl.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	return batch
}

func TestSingleDeviceRunBatch(t *testing.T) {
	labels := []string{"a", "b"}
	model := makeModel(t, 1, labels)
	model.Train()

	d := makeSyntheticData(t, 8, 4, labels, 2)
	batch := firstBatch(t, d, 8)

	ctx, err := NewSingleDevice(model)
	if err != nil {
		t.Fatalf("NewSingleDevice failed: %v", err)
	}
	if ctx.ReplicaCount() != 1 {
		t.Errorf("Expected 1 replica, got %d", ctx.ReplicaCount())
	}

	lossVal, err := ctx.RunBatch(NewBCEWithLogitsLoss(), batch)
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	if math.IsNaN(lossVal) || lossVal <= 0 {
		t.Errorf("Expected a positive finite loss, got %v", lossVal)
	}

	for _, p := range model.Parameters() {
		if p.Tensor.Grad() == nil {
			t.Errorf("Parameter %s received no gradient", p.Name)
		}
	}
}

func TestDataParallelMatchesSingleDevice(t *testing.T) {
	labels := []string{"a", "b"}
	d := makeSyntheticData(t, 8, 4, labels, 3)
	batch := firstBatch(t, d, 8)
	loss := NewBCEWithLogitsLoss()

	single := makeModel(t, 7, labels)
	single.Train()
	singleCtx, _ := NewSingleDevice(single)
	singleLoss, err := singleCtx.RunBatch(loss, batch)
	if err != nil {
		t.Fatalf("SingleDevice RunBatch failed: %v", err)
	}

	replicated := makeModel(t, 7, labels)
	replicated.Train()
	parCtx, err := NewDataParallel(replicated, 2, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatalf("NewDataParallel failed: %v", err)
	}
	if parCtx.ReplicaCount() != 2 {
		t.Errorf("Expected 2 replicas, got %d", parCtx.ReplicaCount())
	}
	parLoss, err := parCtx.RunBatch(loss, batch)
	if err != nil {
		t.Fatalf("DataParallel RunBatch failed: %v", err)
	}

	if math.Abs(singleLoss-parLoss) > 1e-5 {
		t.Errorf("Loss differs across replica counts: %v vs %v", singleLoss, parLoss)
	}

	singleParams := single.Parameters()
	parParams := replicated.Parameters()
	for i, sp := range singleParams {
		sg := sp.Tensor.Grad().Data.([]float32)
		pg := parParams[i].Tensor.Grad().Data.([]float32)
		for j := range sg {
			if math.Abs(float64(sg[j]-pg[j])) > 1e-4 {
				t.Fatalf("Gradient of %s differs at %d: %v vs %v", sp.Name, j, sg[j], pg[j])
			}
		}
	}
}

func TestDataParallelSmallBatch(t *testing.T) {
	labels := []string{"a"}
	model := makeModel(t, 9, labels)
	model.Train()

	d := makeSyntheticData(t, 1, 4, labels, 4)
	batch := firstBatch(t, d, 1)

	// More replicas than rows; the extra replicas sit the batch out.
	ctx, err := NewDataParallel(model, 3, rand.New(rand.NewSource(6)))
	if err != nil {
		t.Fatalf("NewDataParallel failed: %v", err)
	}

	lossVal, err := ctx.RunBatch(NewBCEWithLogitsLoss(), batch)
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	if math.IsNaN(lossVal) {
		t.Error("Expected a finite loss")
	}
}

func TestDataParallelValidation(t *testing.T) {
	model := makeModel(t, 1, []string{"a"})

	if _, err := NewDataParallel(model, 0, rand.New(rand.NewSource(1))); err == nil {
		t.Error("Expected error for zero replicas")
	}
	if _, err := NewDataParallel(model, 2, nil); err == nil {
		t.Error("Expected error for missing random source")
	}
	if _, err := NewDataParallel(nil, 1, nil); err == nil {
		t.Error("Expected error for nil model")
	}
	if _, err := NewSingleDevice(nil); err == nil {
		t.Error("Expected error for nil model")
	}
}
