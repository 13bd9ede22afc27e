package onnx

import (
	"encoding/json"
	"os"
	"strings"
	"unicode"

	"github.com/m-mizutani/goerr/v2"
)

// Tokenizer handles BERT-style lowercase WordPiece tokenization using the
// vocabulary from a Hugging Face tokenizer.json.
type Tokenizer struct {
	vocab  map[string]int
	cls    int64
	sep    int64
	unk    int64
	pad    int64
	inputs []string
}

// Batch is a padded, tokenized batch ready for inference.
type Batch struct {
	Rows   int
	SeqLen int
	Inputs map[string][]int64
}

const maxWordChars = 100

// LoadTokenizer reads the WordPiece vocabulary from tokenizer.json.
func LoadTokenizer(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read tokenizer", goerr.V("path", path))
	}

	var spec struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, goerr.Wrap(err, "failed to parse tokenizer", goerr.V("path", path))
	}
	if len(spec.Model.Vocab) == 0 {
		return nil, goerr.New("tokenizer has an empty vocabulary", goerr.V("path", path))
	}

	return NewTokenizer(spec.Model.Vocab), nil
}

// NewTokenizer builds a tokenizer over vocab. Special tokens fall back to
// the standard BERT ids when missing from vocab.
func NewTokenizer(vocab map[string]int) *Tokenizer {
	lookup := func(token string, fallback int64) int64 {
		if id, ok := vocab[token]; ok {
			return int64(id)
		}
		return fallback
	}

	return &Tokenizer{
		vocab:  vocab,
		cls:    lookup("[CLS]", 101),
		sep:    lookup("[SEP]", 102),
		unk:    lookup("[UNK]", 100),
		pad:    lookup("[PAD]", 0),
		inputs: []string{"input_ids", "attention_mask", "token_type_ids"},
	}
}

func (t *Tokenizer) withInputs(names []string) *Tokenizer {
	cp := *t
	cp.inputs = names
	return &cp
}

// Tokenize converts text to WordPiece token ids without special tokens.
func (t *Tokenizer) Tokenize(text string) []int64 {
	var ids []int64
	for _, word := range splitWords(strings.ToLower(text)) {
		ids = append(ids, t.wordPiece(word)...)
	}
	return ids
}

// Encode tokenizes texts, wraps each in [CLS] ... [SEP], truncates to
// maxLen and pads every row to the longest one.
func (t *Tokenizer) Encode(texts []string, maxLen int) *Batch {
	rows := make([][]int64, len(texts))
	seqLen := 0
	for i, text := range texts {
		tokens := t.Tokenize(text)
		if len(tokens) > maxLen-2 {
			tokens = tokens[:maxLen-2]
		}
		row := make([]int64, 0, len(tokens)+2)
		row = append(row, t.cls)
		row = append(row, tokens...)
		row = append(row, t.sep)
		rows[i] = row
		seqLen = max(seqLen, len(row))
	}

	ids := make([]int64, len(texts)*seqLen)
	mask := make([]int64, len(texts)*seqLen)
	types := make([]int64, len(texts)*seqLen)
	for i, row := range rows {
		for j := 0; j < seqLen; j++ {
			if j < len(row) {
				ids[i*seqLen+j] = row[j]
				mask[i*seqLen+j] = 1
			} else {
				ids[i*seqLen+j] = t.pad
			}
		}
	}

	return &Batch{
		Rows:   len(texts),
		SeqLen: seqLen,
		Inputs: map[string][]int64{
			"input_ids":      ids,
			"attention_mask": mask,
			"token_type_ids": types,
		},
	}
}

// splitWords splits on whitespace and isolates punctuation, as BERT's basic
// tokenizer does.
func splitWords(text string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}

	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

// wordPiece greedily matches the longest vocabulary prefix. A word that
// cannot be fully covered becomes a single [UNK].
func (t *Tokenizer) wordPiece(word string) []int64 {
	runes := []rune(word)
	if len(runes) > maxWordChars {
		return []int64{t.unk}
	}

	var ids []int64
	for start := 0; start < len(runes); {
		end := len(runes)
		found := false
		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := t.vocab[piece]; ok {
				ids = append(ids, int64(id))
				found = true
				break
			}
			end--
		}
		if !found {
			return []int64{t.unk}
		}
		start = end
	}
	return ids
}
