package training

// ConfusionMatrix is a per-label 2x2 tally of thresholded predictions
// against ground truth.
type ConfusionMatrix struct {
	TN int `json:"tn"`
	FP int `json:"fp"`
	FN int `json:"fn"`
	TP int `json:"tp"`
}

// Add records one prediction/truth pair.
func (c *ConfusionMatrix) Add(predicted, actual bool) {
	switch {
	case predicted && actual:
		c.TP++
	case predicted && !actual:
		c.FP++
	case !predicted && actual:
		c.FN++
	default:
		c.TN++
	}
}

// Support returns the number of true positives plus false negatives,
// the count of genuinely positive cells for the label.
func (c ConfusionMatrix) Support() int {
	return c.TP + c.FN
}

// Precision returns TP / (TP + FP), or 0 when nothing was predicted
// positive.
func (c ConfusionMatrix) Precision() float64 {
	if c.TP+c.FP == 0 {
		return 0
	}
	return float64(c.TP) / float64(c.TP+c.FP)
}

// Recall returns TP / (TP + FN), or 0 when the label has no positive
// cells.
func (c ConfusionMatrix) Recall() float64 {
	if c.TP+c.FN == 0 {
		return 0
	}
	return float64(c.TP) / float64(c.TP+c.FN)
}

// F1 returns the harmonic mean of precision and recall. When the label
// has neither positive truth nor positive predictions the score is
// undefined and reported as 0; IsDegenerate distinguishes that case.
func (c ConfusionMatrix) F1() float64 {
	p := c.Precision()
	r := c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// IsDegenerate reports whether the F1 score carried no information:
// no positive truth and no positive predictions.
func (c ConfusionMatrix) IsDegenerate() bool {
	return c.TP == 0 && c.FP == 0 && c.FN == 0
}
