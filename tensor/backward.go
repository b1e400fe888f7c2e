package tensor

import (
	"fmt"
)

// Backward propagates a gradient from t through the recorded operation
// graph, accumulating results into the grad buffers of tensors that
// require gradients. A nil seed is permitted only for single-element
// tensors and defaults to 1.0.
func (t *Tensor) Backward(grad *Tensor) error {
	if grad == nil {
		if t.NumElems != 1 {
			return fmt.Errorf("backward without an explicit gradient requires a single-element tensor, got %d elements", t.NumElems)
		}
		var err error
		grad, err = Ones(t.Shape, Float32)
		if err != nil {
			return err
		}
	}

	if !shapesEqual(grad.Shape, t.Shape) {
		return fmt.Errorf("gradient shape %v does not match tensor shape %v", grad.Shape, t.Shape)
	}

	// Reverse topological order over the creator graph so each node is
	// processed only after all gradient paths into it have accumulated.
	order := topoSort(t)

	grads := map[*Tensor]*Tensor{t: grad}

	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		nodeGrad, ok := grads[node]
		if !ok {
			continue
		}

		if node.creator == nil {
			if node.requiresGrad {
				if err := node.accumulateGrad(nodeGrad); err != nil {
					return fmt.Errorf("gradient accumulation failed: %v", err)
				}
			}
			continue
		}

		inputGrads, err := node.creator.Backward(nodeGrad)
		if err != nil {
			return fmt.Errorf("backward pass failed: %v", err)
		}

		inputs := node.creator.Inputs()
		if len(inputGrads) != len(inputs) {
			return fmt.Errorf("operation returned %d gradients for %d inputs", len(inputGrads), len(inputs))
		}

		for j, input := range inputs {
			if inputGrads[j] == nil {
				continue
			}
			if existing, ok := grads[input]; ok {
				summed, err := Add(existing, inputGrads[j])
				if err != nil {
					return fmt.Errorf("gradient accumulation failed: %v", err)
				}
				grads[input] = summed
			} else {
				grads[input] = inputGrads[j]
			}
		}
	}

	return nil
}

// topoSort returns the tensors reachable from root through creator
// edges in topological order (inputs before outputs).
func topoSort(root *Tensor) []*Tensor {
	var order []*Tensor
	visited := make(map[*Tensor]bool)

	var visit func(*Tensor)
	visit = func(t *Tensor) {
		if visited[t] {
			return
		}
		visited[t] = true
		if t.creator != nil {
			for _, input := range t.creator.Inputs() {
				visit(input)
			}
		}
		order = append(order, t)
	}

	visit(root)
	return order
}
