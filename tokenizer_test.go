package vlpipe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWordTokenizerMarkersAreAtomic(t *testing.T) {
	tok := NewWordTokenizer(ImgStartToken, ImgEndToken, ImgContextToken)

	startID, ok := tok.TokenID(ImgStartToken)
	require.True(t, ok)
	ctxID, ok := tok.TokenID(ImgContextToken)
	require.True(t, ok)
	endID, ok := tok.TokenID(ImgEndToken)
	require.True(t, ok)

	// Markers glued to words and to each other must still come out as
	// single tokens; this is what the assembler's accounting relies on.
	text := "before<img>" + strings.Repeat(ImgContextToken, 3) +
		"</img>after"
	ids := tok.Encode(text)
	require.Len(t, ids, 7)
	assert.Equal(t, startID, ids[1])
	assert.Equal(t, Tokens{ctxID, ctxID, ctxID}, ids[2:5])
	assert.Equal(t, endID, ids[5])
}

func TestWordTokenizerStableIDs(t *testing.T) {
	tok := NewWordTokenizer()
	first := tok.Encode("the cat sat on the mat")
	again := tok.Encode("the cat sat on the mat")
	assert.Equal(t, first, again)
	assert.Equal(t, first[0], first[4], "repeated word keeps its id")

	id, ok := tok.TokenID("cat")
	require.True(t, ok)
	assert.Equal(t, first[1], id)

	_, ok = tok.TokenID("unseen")
	assert.False(t, ok)
	assert.Equal(t, Token(0), tok.PadID())
}

func TestWordTokenizerConcurrentEncode(t *testing.T) {
	tok := NewWordTokenizer(ImgContextToken)
	done := make(chan Tokens, 8)
	for i := 0; i < 8; i++ {
		go func() {
			done <- tok.Encode("shared words <IMG_CONTEXT> shared words")
		}()
	}
	first := <-done
	for i := 1; i < 8; i++ {
		assert.Equal(t, first, <-done)
	}
}
