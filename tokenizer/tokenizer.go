// Package tokenizer converts raw text into the fixed-shape integer
// tensors the classifier consumes. Every encoded batch has shape
// [n, seqLen]: longer texts are truncated silently, shorter ones are
// right-padded with id 0 and mask 0.
package tokenizer

import (
	"github.com/tsawler/piilabel/tensor"
)

// Tokenizer encodes batches of text into id and attention-mask tensors.
// Both outputs are Int32 with shape [len(texts), SeqLen()]. Mask
// entries are 1 for real tokens and 0 for padding; an empty input
// string yields an all-zero mask row.
type Tokenizer interface {
	EncodeBatch(texts []string) (ids, mask *tensor.Tensor, err error)
	SeqLen() int
	VocabSize() int
}
