package vlpipe

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/vikesh-raj/go-sentencepiece-encoder/sentencepiece"
	"google.golang.org/protobuf/proto"
)

// Token is a vocabulary id. Labels reuse the same type with
// IgnoreTokenID marking positions excluded from the loss.
type Token int32

type Tokens []Token

// IgnoreTokenID is the loss-mask sentinel written into label positions
// that must not contribute to training loss.
const IgnoreTokenID Token = -100

// Tokenizer is the minimal surface the assembler needs from the
// external tokenizer: text to ids, marker-piece lookup, and the pad id.
// Tokenization semantics beyond that stay with the trainer.
type Tokenizer interface {
	Encode(text string) Tokens
	TokenID(piece string) (Token, bool)
	PadID() Token
}

const spmSpace = "▁" // ▁, the SentencePiece whitespace marker

// SentencePieceTokenizer is a Tokenizer backed by a SentencePiece
// .model vocabulary. Encoding is greedy longest-match over the piece
// table, which preserves marker pieces and id accounting; trainers with
// stricter segmentation plug in their own Tokenizer implementation.
type SentencePieceTokenizer struct {
	pieces map[string]Token
	maxLen int
	padID  Token
	unkID  Token
}

// NewSentencePieceTokenizer
// Loads the piece table from a serialized SentencePiece ModelProto.
func NewSentencePieceTokenizer(modelPath string,
	padID Token) (*SentencePieceTokenizer, error) {
	data, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, err
	}
	var model sentencepiece.ModelProto
	if err := proto.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf(
			"tokenizer: cannot parse SentencePiece model %s: %v",
			modelPath, err)
	}
	t := &SentencePieceTokenizer{
		pieces: make(map[string]Token, len(model.GetPieces())),
		padID:  padID,
		unkID:  0,
	}
	for idx, piece := range model.GetPieces() {
		repr := piece.GetPiece()
		if piece.GetType() == sentencepiece.ModelProto_SentencePiece_UNKNOWN {
			t.unkID = Token(idx)
		}
		t.pieces[repr] = Token(idx)
		if len(repr) > t.maxLen {
			t.maxLen = len(repr)
		}
	}
	return t, nil
}

func (t *SentencePieceTokenizer) Encode(text string) Tokens {
	normalized := spmSpace + strings.ReplaceAll(text, " ", spmSpace)
	tokens := make(Tokens, 0, len(normalized)/3)
	for pos := 0; pos < len(normalized); {
		end := pos + t.maxLen
		if end > len(normalized) {
			end = len(normalized)
		}
		matched := false
		for ; end > pos; end-- {
			if id, ok := t.pieces[normalized[pos:end]]; ok {
				tokens = append(tokens, id)
				pos = end
				matched = true
				break
			}
		}
		if !matched {
			tokens = append(tokens, t.unkID)
			pos += 1
		}
	}
	return tokens
}

func (t *SentencePieceTokenizer) TokenID(piece string) (Token, bool) {
	id, ok := t.pieces[piece]
	return id, ok
}

func (t *SentencePieceTokenizer) PadID() Token {
	return t.padID
}

// WordTokenizer is a whitespace-and-marker tokenizer that assigns ids
// on first sight. It exists for the probe CLI and for tests, where the
// real vocabulary is irrelevant but marker-span accounting must hold.
// Safe for concurrent use by parallel loader workers.
type WordTokenizer struct {
	mu      sync.Mutex
	vocab   map[string]Token
	markers []string
}

// NewWordTokenizer registers the marker pieces up front so they encode
// to single, stable ids. Id 0 is the pad token.
func NewWordTokenizer(markers ...string) *WordTokenizer {
	t := &WordTokenizer{
		vocab:   map[string]Token{"<pad>": 0},
		markers: append([]string{}, markers...),
	}
	// Longer markers first so shorter ones never split them.
	sort.Slice(t.markers, func(i, j int) bool {
		return len(t.markers[i]) > len(t.markers[j])
	})
	for _, m := range t.markers {
		t.intern(m)
	}
	return t
}

func (t *WordTokenizer) intern(word string) Token {
	if id, ok := t.vocab[word]; ok {
		return id
	}
	id := Token(len(t.vocab))
	t.vocab[word] = id
	return id
}

func (t *WordTokenizer) Encode(text string) Tokens {
	for _, m := range t.markers {
		text = strings.ReplaceAll(text, m, " "+m+" ")
	}
	words := strings.Fields(text)
	t.mu.Lock()
	defer t.mu.Unlock()
	tokens := make(Tokens, 0, len(words))
	for _, w := range words {
		tokens = append(tokens, t.intern(w))
	}
	return tokens
}

func (t *WordTokenizer) TokenID(piece string) (Token, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.vocab[piece]
	return id, ok
}

func (t *WordTokenizer) PadID() Token {
	return 0
}
