package training

import (
	"fmt"
	"math"
	"sync"

	"github.com/tsawler/piilabel/layers"
	"github.com/tsawler/piilabel/tensor"
)

// AdamWConfig holds the optimizer hyperparameters. WeightDecay applies
// only to the decay-eligible parameter group and is decoupled from the
// gradient update.
type AdamWConfig struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32
}

// DefaultAdamWConfig returns the fine-tuning defaults: a small learning
// rate suited to pretrained weights and the conventional Adam moments.
func DefaultAdamWConfig() AdamWConfig {
	return AdamWConfig{
		LearningRate: 2e-5,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.01,
	}
}

// AdamW implements Adam with decoupled weight decay over parameter
// groups. Moment buffers are allocated lazily per parameter on the
// first step that sees a gradient.
type AdamW struct {
	mu sync.Mutex

	config AdamWConfig
	groups []ParameterGroup

	m    map[*tensor.Tensor][]float32
	v    map[*tensor.Tensor][]float32
	step int
}

// NewAdamW partitions the parameters by their decay flags and builds
// the optimizer.
func NewAdamW(params []*layers.Parameter, config AdamWConfig) (*AdamW, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("optimizer requires at least one parameter")
	}
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %v", config.LearningRate)
	}
	if config.Beta1 <= 0 || config.Beta1 >= 1 || config.Beta2 <= 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("betas must be in (0, 1), got %v and %v", config.Beta1, config.Beta2)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay must be non-negative, got %v", config.WeightDecay)
	}

	return &AdamW{
		config: config,
		groups: BuildGroups(params, config.WeightDecay),
		m:      make(map[*tensor.Tensor][]float32),
		v:      make(map[*tensor.Tensor][]float32),
	}, nil
}

// Groups exposes the parameter groups, mostly for inspection in tests
// and checkpoints.
func (o *AdamW) Groups() []ParameterGroup {
	return o.groups
}

// StepCount returns the number of optimizer steps taken so far.
func (o *AdamW) StepCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.step
}

// Step applies one AdamW update to every parameter that accumulated a
// gradient. Parameters without gradients are skipped.
func (o *AdamW) Step() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.step++
	beta1 := float64(o.config.Beta1)
	beta2 := float64(o.config.Beta2)
	correction1 := float32(1 - math.Pow(beta1, float64(o.step)))
	correction2 := float32(1 - math.Pow(beta2, float64(o.step)))

	for _, group := range o.groups {
		for _, param := range group.Params {
			grad := param.Tensor.Grad()
			if grad == nil {
				continue
			}

			weights, err := param.Tensor.GetFloat32Data()
			if err != nil {
				return fmt.Errorf("parameter %s: %v", param.Name, err)
			}
			gradData, err := grad.GetFloat32Data()
			if err != nil {
				return fmt.Errorf("gradient of %s: %v", param.Name, err)
			}

			m, ok := o.m[param.Tensor]
			if !ok {
				m = make([]float32, len(weights))
				o.m[param.Tensor] = m
			}
			v, ok := o.v[param.Tensor]
			if !ok {
				v = make([]float32, len(weights))
				o.v[param.Tensor] = v
			}

			lr := o.config.LearningRate
			for i := range weights {
				g := gradData[i]
				m[i] = o.config.Beta1*m[i] + (1-o.config.Beta1)*g
				v[i] = o.config.Beta2*v[i] + (1-o.config.Beta2)*g*g

				mHat := m[i] / correction1
				vHat := v[i] / correction2

				update := lr * mHat / (float32(math.Sqrt(float64(vHat))) + o.config.Epsilon)

				// Decoupled decay: shrink the weight directly instead
				// of folding decay into the gradient.
				if group.WeightDecay > 0 {
					update += lr * group.WeightDecay * weights[i]
				}

				weights[i] -= update
			}
		}
	}

	return nil
}

// ZeroGrad clears the gradients of every managed parameter.
func (o *AdamW) ZeroGrad() {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, group := range o.groups {
		tensor.ZeroGrad(layers.Tensors(group.Params))
	}
}

// GetLR returns the current learning rate.
func (o *AdamW) GetLR() float32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.config.LearningRate
}

// SetLR changes the learning rate for subsequent steps.
func (o *AdamW) SetLR(lr float32) error {
	if lr <= 0 {
		return fmt.Errorf("learning rate must be positive, got %v", lr)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.config.LearningRate = lr
	return nil
}
