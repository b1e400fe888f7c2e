package training

import (
	"fmt"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"

	"github.com/tsawler/piilabel/dataset"
	"github.com/tsawler/piilabel/layers"
	"github.com/tsawler/piilabel/tensor"
)

// DefaultThreshold is the probability above which a label counts as
// predicted.
const DefaultThreshold = 0.50

// LabelMetrics holds the per-label evaluation results.
type LabelMetrics struct {
	Name      string          `json:"name"`
	Confusion ConfusionMatrix `json:"confusion"`
	Precision float64         `json:"precision"`
	Recall    float64         `json:"recall"`
	F1        float64         `json:"f1"`

	// Degenerate marks labels whose F1 of 0 carries no information
	// because the validation set had no positive cells and the model
	// predicted none.
	Degenerate bool `json:"degenerate"`
}

// Report is a full evaluation over a dataset split. Labels appear in
// the model's logit-column order. MacroF1 and Accuracy are percentages
// in [0, 100]; Accuracy counts samples whose entire predicted label
// vector matches the truth exactly, not per-label averages.
type Report struct {
	Labels   []LabelMetrics `json:"labels"`
	MacroF1  float64        `json:"macro_f1"`
	Accuracy float64        `json:"accuracy"`
	Samples  int            `json:"samples"`
}

// String renders the report as a fixed-width table, one row per label.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %10s %10s %10s %6s %6s %6s %6s\n",
		"label", "precision", "recall", "f1", "tp", "fp", "fn", "tn")
	for _, lm := range r.Labels {
		note := ""
		if lm.Degenerate {
			note = " (no positive support)"
		}
		fmt.Fprintf(&b, "%-24s %10.4f %10.4f %10.4f %6d %6d %6d %6d%s\n",
			lm.Name, lm.Precision, lm.Recall, lm.F1,
			lm.Confusion.TP, lm.Confusion.FP, lm.Confusion.FN, lm.Confusion.TN, note)
	}
	fmt.Fprintf(&b, "\nmacro F1: %.2f%%  flat accuracy: %.2f%%  samples: %d\n", r.MacroF1, r.Accuracy, r.Samples)
	return b.String()
}

// Evaluator scores a model over a validation loader. Evaluation runs
// with the model in eval mode and autograd disabled; it never mutates
// the model.
type Evaluator struct {
	threshold float32
	logger    zerolog.Logger
}

func NewEvaluator(threshold float32, logger zerolog.Logger) (*Evaluator, error) {
	if threshold <= 0 || threshold >= 1 {
		return nil, fmt.Errorf("threshold must be in (0, 1), got %v", threshold)
	}
	return &Evaluator{threshold: threshold, logger: logger}, nil
}

// Evaluate runs the model over every batch of the loader and collects
// per-label confusion matrices, macro-averaged F1, and flat accuracy
// counting samples whose whole predicted label vector is exact.
func (e *Evaluator) Evaluate(model *layers.Classifier, loader *dataset.DataLoader) (*Report, error) {
	wasTraining := model.IsTraining()
	model.Eval()
	defer func() {
		if wasTraining {
			model.Train()
		}
	}()

	labels := model.Labels()
	confusions := make([]ConfusionMatrix, len(labels))
	samples := 0
	exactMatches := 0

	loader.Reset()
	err := tensor.NoGrad(func() error {
		for loader.HasNext() {
			batch, err := loader.Next()
			if err != nil {
				return err
			}

			logits, err := model.Forward(batch.InputIDs, batch.AttentionMask)
			if err != nil {
				return err
			}
			probs, err := tensor.Sigmoid(logits)
			if err != nil {
				return err
			}

			probData, err := probs.GetFloat32Data()
			if err != nil {
				return err
			}
			truthData, err := batch.Labels.GetFloat32Data()
			if err != nil {
				return err
			}

			rows := batch.Size()
			for i := 0; i < rows; i++ {
				exact := true
				for j := range labels {
					cell := i*len(labels) + j
					predicted := probData[cell] > e.threshold
					actual := truthData[cell] == 1
					confusions[j].Add(predicted, actual)
					if predicted != actual {
						exact = false
					}
				}
				if exact {
					exactMatches++
				}
			}
			samples += rows
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	report := &Report{
		Labels:  make([]LabelMetrics, len(labels)),
		Samples: samples,
	}

	f1s := make(stats.Float64Data, len(labels))
	for j, name := range labels {
		c := confusions[j]
		lm := LabelMetrics{
			Name:       name,
			Confusion:  c,
			Precision:  c.Precision(),
			Recall:     c.Recall(),
			F1:         c.F1(),
			Degenerate: c.IsDegenerate(),
		}
		report.Labels[j] = lm
		f1s[j] = lm.F1

		if lm.Degenerate {
			e.logger.Warn().
				Str("label", name).
				Msg("label has no positive cells and no positive predictions; F1 reported as 0")
		}
	}

	macro, err := stats.Mean(f1s)
	if err != nil {
		return nil, fmt.Errorf("failed to average F1 scores: %v", err)
	}
	report.MacroF1 = macro * 100
	if samples > 0 {
		report.Accuracy = float64(exactMatches) / float64(samples) * 100
	}

	e.logger.Info().
		Float64("macro_f1", report.MacroF1).
		Float64("accuracy", report.Accuracy).
		Int("samples", samples).
		Msg("evaluation complete")

	return report, nil
}
