package training

import (
	"math"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tsawler/piilabel/dataset"
	"github.com/tsawler/piilabel/layers"
	"github.com/tsawler/piilabel/tensor"
)

// forceHead pins the classifier head so that each label's logit is a
// constant, making predictions independent of the input text.
func forceHead(t *testing.T, model *layers.Classifier, logits []float32) {
	t.Helper()
	for _, p := range model.Parameters() {
		switch p.Name {
		case "head.weight":
			data := p.Tensor.Data.([]float32)
			for i := range data {
				data[i] = 0
			}
		case "head.bias":
			if err := p.Tensor.SetData(logits); err != nil {
				t.Fatalf("SetData failed: %v", err)
			}
		}
	}
}

// evalDataset builds a 10-sample dataset: label "never" has no positive
// cells, label "mixed" is positive for the first 6 samples.
func evalDataset(t *testing.T) *dataset.Dataset {
	t.Helper()

	n, seqLen := 10, 4
	ids := make([]int32, n*seqLen)
	mask := make([]int32, n*seqLen)
	labels := make([]float32, n*2)
	for i := 0; i < n; i++ {
		for j := 0; j < seqLen; j++ {
			ids[i*seqLen+j] = int32(i%14) + 1
			mask[i*seqLen+j] = 1
		}
		if i < 6 {
			labels[i*2+1] = 1
		}
	}

	idTensor, _ := tensor.NewTensor([]int{n, seqLen}, tensor.Int32, ids)
	maskTensor, _ := tensor.NewTensor([]int{n, seqLen}, tensor.Int32, mask)
	labelTensor, _ := tensor.NewTensor([]int{n, 2}, tensor.Float32, labels)

	d, err := dataset.New(idTensor, maskTensor, labelTensor, []string{"never", "mixed"})
	if err != nil {
		t.Fatalf("dataset.New failed: %v", err)
	}
	return d
}

func TestEvaluate(t *testing.T) {
	model := makeModel(t, 21, []string{"never", "mixed"})
	// Label "never" is always predicted negative, "mixed" always
	// positive.
	forceHead(t, model, []float32{-10, 10})

	d := evalDataset(t)
	loader, _ := dataset.NewDataLoader(d, nil, 4, false, nil)

	evaluator, err := NewEvaluator(DefaultThreshold, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEvaluator failed: %v", err)
	}

	report, err := evaluator.Evaluate(model, loader)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if report.Samples != 10 {
		t.Errorf("Expected 10 samples, got %d", report.Samples)
	}

	// Label with no positive truth and no positive predictions: all 10
	// cells are true negatives and the score is degenerate.
	never := report.Labels[0]
	if never.Name != "never" {
		t.Fatalf("Labels out of order: %v", report.Labels)
	}
	want := ConfusionMatrix{TN: 10}
	if never.Confusion != want {
		t.Errorf("Expected confusion %+v, got %+v", want, never.Confusion)
	}
	if never.F1 != 0 || !never.Degenerate {
		t.Errorf("Expected degenerate F1 0, got %v (degenerate=%v)", never.F1, never.Degenerate)
	}

	// Always-positive label over 6 positives and 4 negatives.
	mixed := report.Labels[1]
	if mixed.Confusion.TP != 6 || mixed.Confusion.FP != 4 || mixed.Confusion.FN != 0 || mixed.Confusion.TN != 0 {
		t.Errorf("Unexpected confusion for mixed: %+v", mixed.Confusion)
	}
	if math.Abs(mixed.Precision-0.6) > 1e-9 || mixed.Recall != 1 {
		t.Errorf("Expected precision 0.6 recall 1, got %v and %v", mixed.Precision, mixed.Recall)
	}
	if math.Abs(mixed.F1-0.75) > 1e-9 {
		t.Errorf("Expected F1 0.75, got %v", mixed.F1)
	}

	// Macro F1 averages over labels, degenerate ones included, as a
	// percentage: (0 + 0.75) / 2 * 100.
	if math.Abs(report.MacroF1-37.5) > 1e-9 {
		t.Errorf("Expected macro F1 37.5, got %v", report.MacroF1)
	}

	// Flat accuracy counts exact label-vector matches: the predicted
	// vector is always [0, 1], which matches the first 6 samples only.
	if math.Abs(report.Accuracy-60) > 1e-9 {
		t.Errorf("Expected flat accuracy 60, got %v", report.Accuracy)
	}

	// Every confusion matrix accounts for every validation sample.
	for _, lm := range report.Labels {
		c := lm.Confusion
		if c.TP+c.TN+c.FP+c.FN != 10 {
			t.Errorf("Confusion cells for %s sum to %d, want 10", lm.Name, c.TP+c.TN+c.FP+c.FN)
		}
	}
}

func TestEvaluateRestoresTrainingMode(t *testing.T) {
	model := makeModel(t, 22, []string{"a"})
	model.Train()

	labels := []string{"a"}
	d := makeSyntheticData(t, 4, 4, labels, 23)
	loader, _ := dataset.NewDataLoader(d, nil, 2, false, nil)

	evaluator, _ := NewEvaluator(DefaultThreshold, zerolog.Nop())
	if _, err := evaluator.Evaluate(model, loader); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if !model.IsTraining() {
		t.Error("Evaluate should restore the model's training mode")
	}
}

func TestEvaluateLeavesNoGradients(t *testing.T) {
	model := makeModel(t, 24, []string{"a"})
	model.Eval()

	labels := []string{"a"}
	d := makeSyntheticData(t, 4, 4, labels, 25)
	loader, _ := dataset.NewDataLoader(d, nil, 2, false, nil)

	evaluator, _ := NewEvaluator(DefaultThreshold, zerolog.Nop())
	if _, err := evaluator.Evaluate(model, loader); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	for _, p := range model.Parameters() {
		if p.Tensor.Grad() != nil {
			t.Errorf("Evaluation accumulated a gradient on %s", p.Name)
		}
	}
}

func TestNewEvaluatorValidation(t *testing.T) {
	if _, err := NewEvaluator(0, zerolog.Nop()); err == nil {
		t.Error("Expected error for threshold 0")
	}
	if _, err := NewEvaluator(1, zerolog.Nop()); err == nil {
		t.Error("Expected error for threshold 1")
	}
}

func TestReportString(t *testing.T) {
	report := &Report{
		Labels: []LabelMetrics{
			{Name: "email", F1: 0.9, Confusion: ConfusionMatrix{TP: 9, TN: 89, FP: 1, FN: 1}},
			{Name: "phone", Degenerate: true, Confusion: ConfusionMatrix{TN: 100}},
		},
		MacroF1:  45,
		Accuracy: 98,
		Samples:  100,
	}

	out := report.String()
	for _, want := range []string{"email", "phone", "macro F1", "no positive support"} {
		if !strings.Contains(out, want) {
			t.Errorf("Report output missing %q:\n%s", want, out)
		}
	}
}
