package training

import (
	"github.com/tsawler/piilabel/layers"
)

// ParameterGroup is a set of parameters sharing one weight decay
// coefficient.
type ParameterGroup struct {
	Params      []*layers.Parameter
	WeightDecay float32
}

// BuildGroups partitions parameters into a decayed group and an exempt
// group using the NoDecay flag each layer assigned at construction.
// Every parameter lands in exactly one group; the exempt group always
// has coefficient zero.
func BuildGroups(params []*layers.Parameter, weightDecay float32) []ParameterGroup {
	decayed := ParameterGroup{WeightDecay: weightDecay}
	exempt := ParameterGroup{WeightDecay: 0}

	for _, p := range params {
		if p.NoDecay {
			exempt.Params = append(exempt.Params, p)
		} else {
			decayed.Params = append(decayed.Params, p)
		}
	}

	return []ParameterGroup{decayed, exempt}
}

// GroupSizes returns the parameter counts of each group, in order.
func GroupSizes(groups []ParameterGroup) []int {
	sizes := make([]int, len(groups))
	for i, g := range groups {
		sizes[i] = len(g.Params)
	}
	return sizes
}
