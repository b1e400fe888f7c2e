package training

import "fmt"

// NumericInstabilityError reports a non-finite training loss. The
// optimizer state is poisoned once NaN or Inf appears, so training
// stops immediately instead of silently continuing.
type NumericInstabilityError struct {
	Epoch int
	Batch int
	Loss  float64
}

func (e *NumericInstabilityError) Error() string {
	return fmt.Sprintf("non-finite loss %v at epoch %d batch %d", e.Loss, e.Epoch, e.Batch)
}
