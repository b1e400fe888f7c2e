package dataset

import (
	"fmt"

	"github.com/tsawler/piilabel/tensor"
	"github.com/tsawler/piilabel/tokenizer"
)

// Dataset holds a fully tokenized corpus: token ids and attention masks
// of shape [n, seqLen] (Int32) and a label matrix of shape
// [n, numLabels] (Float32, values 0 or 1). Rows across the three
// tensors are aligned.
type Dataset struct {
	InputIDs      *tensor.Tensor
	AttentionMask *tensor.Tensor
	Labels        *tensor.Tensor
	LabelNames    []string
}

// New validates tensor shapes and dtypes and binds them into a dataset.
func New(ids, mask, labels *tensor.Tensor, labelNames []string) (*Dataset, error) {
	if ids == nil || mask == nil || labels == nil {
		return nil, fmt.Errorf("dataset tensors must not be nil")
	}
	if ids.DType != tensor.Int32 || mask.DType != tensor.Int32 {
		return nil, fmt.Errorf("ids and mask must be Int32 tensors")
	}
	if labels.DType != tensor.Float32 {
		return nil, fmt.Errorf("labels must be a Float32 tensor")
	}
	if len(ids.Shape) != 2 || len(mask.Shape) != 2 || len(labels.Shape) != 2 {
		return nil, fmt.Errorf("dataset tensors must be 2D")
	}
	if ids.Shape[0] != mask.Shape[0] || ids.Shape[0] != labels.Shape[0] {
		return nil, fmt.Errorf("row counts differ: ids %d, mask %d, labels %d",
			ids.Shape[0], mask.Shape[0], labels.Shape[0])
	}
	if ids.Shape[1] != mask.Shape[1] {
		return nil, fmt.Errorf("sequence lengths differ: ids %d, mask %d", ids.Shape[1], mask.Shape[1])
	}
	if labels.Shape[1] != len(labelNames) {
		return nil, &SchemaError{
			Reason: fmt.Sprintf("label matrix has %d columns but %d label names", labels.Shape[1], len(labelNames)),
		}
	}

	return &Dataset{
		InputIDs:      ids,
		AttentionMask: mask,
		Labels:        labels,
		LabelNames:    append([]string(nil), labelNames...),
	}, nil
}

// FromTable tokenizes every text in the table and packs the result into
// a dataset.
func FromTable(table *Table, tok tokenizer.Tokenizer) (*Dataset, error) {
	if table == nil || table.Len() == 0 {
		return nil, fmt.Errorf("cannot build a dataset from an empty table")
	}

	ids, mask, err := tok.EncodeBatch(table.Texts)
	if err != nil {
		return nil, fmt.Errorf("tokenization failed: %v", err)
	}

	n := table.Len()
	numLabels := table.NumLabels()
	labelData := make([]float32, n*numLabels)
	for i, row := range table.Labels {
		copy(labelData[i*numLabels:], row)
	}
	labels, err := tensor.NewTensor([]int{n, numLabels}, tensor.Float32, labelData)
	if err != nil {
		return nil, err
	}

	return New(ids, mask, labels, table.LabelNames)
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return d.InputIDs.Shape[0]
}

// SeqLen returns the fixed token sequence length.
func (d *Dataset) SeqLen() int {
	return d.InputIDs.Shape[1]
}

// NumLabels returns the width of the label matrix.
func (d *Dataset) NumLabels() int {
	return d.Labels.Shape[1]
}
