package tokenizer

import (
	"fmt"
	"os"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"

	"github.com/tsawler/piilabel/tensor"
)

const unknownToken = "[UNK]"

// WordPiece is a BERT-style subword tokenizer built on
// sugarme/tokenizer. Unlike the usual BERT setup it adds no [CLS] or
// [SEP] markers: the classifier pools over all unmasked positions, so
// sentence delimiters carry no information for it.
type WordPiece struct {
	t      *tk.Tokenizer
	seqLen int
}

// NewWordPiece loads a vocab.txt file (one token per line, [PAD]
// expected at line 0 so that padding id 0 is the pad token) and
// configures BERT normalization, whitespace/punctuation
// pre-tokenization, and truncation to seqLen.
func NewWordPiece(vocabPath string, seqLen int) (*WordPiece, error) {
	if seqLen <= 0 {
		return nil, fmt.Errorf("sequence length must be positive, got %d", seqLen)
	}
	if _, err := os.Stat(vocabPath); err != nil {
		return nil, fmt.Errorf("vocab file not found: %v", err)
	}

	wp, err := wordpiece.NewWordPieceFromFile(vocabPath, unknownToken)
	if err != nil {
		return nil, fmt.Errorf("failed to load vocab from %s: %v", vocabPath, err)
	}

	t := tk.NewTokenizer(wp)
	t.WithNormalizer(normalizer.NewBertNormalizer(true, true, true, true))
	t.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())
	t.WithTruncation(&tk.TruncationParams{MaxLength: seqLen})

	return &WordPiece{t: t, seqLen: seqLen}, nil
}

// EncodeBatch tokenizes texts into Int32 tensors of shape
// [len(texts), seqLen]. Truncation is silent; padding uses id 0 with
// mask 0.
func (w *WordPiece) EncodeBatch(texts []string) (*tensor.Tensor, *tensor.Tensor, error) {
	if len(texts) == 0 {
		return nil, nil, fmt.Errorf("cannot encode an empty batch")
	}

	ids := make([]int32, len(texts)*w.seqLen)
	mask := make([]int32, len(texts)*w.seqLen)

	for i, text := range texts {
		// An empty text encodes to zero tokens, which leaves its row
		// fully padded. The pooling layer handles the all-zero mask.
		if text == "" {
			continue
		}

		enc, err := w.t.Encode(tk.NewSingleEncodeInput(tk.NewInputSequence(text)), false)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode text %d: %v", i, err)
		}

		tokenIDs := enc.GetIds()
		n := len(tokenIDs)
		if n > w.seqLen {
			n = w.seqLen
		}
		base := i * w.seqLen
		for j := 0; j < n; j++ {
			ids[base+j] = int32(tokenIDs[j])
			mask[base+j] = 1
		}
	}

	idTensor, err := tensor.NewTensor([]int{len(texts), w.seqLen}, tensor.Int32, ids)
	if err != nil {
		return nil, nil, err
	}
	maskTensor, err := tensor.NewTensor([]int{len(texts), w.seqLen}, tensor.Int32, mask)
	if err != nil {
		return nil, nil, err
	}

	return idTensor, maskTensor, nil
}

func (w *WordPiece) SeqLen() int {
	return w.seqLen
}

func (w *WordPiece) VocabSize() int {
	return w.t.GetVocabSize(false)
}
