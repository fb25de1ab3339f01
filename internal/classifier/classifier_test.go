package classifier

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func structuredCode(n int) string {
	return strings.Repeat("function(a, b) { return a + b; } ", 3)[:n]
}

func TestClassify_SmallDeltaNeverPaste(t *testing.T) {
	prev := FromText("x = 1")
	for _, elapsed := range []time.Duration{0, time.Millisecond, 50 * time.Millisecond, time.Hour} {
		for n := 0; n < MinPasteLen; n++ {
			cur := FromText(prev.Text + strings.Repeat("{", n))
			ok, err := Classify(prev, cur, elapsed)
			require.NoError(t, err)
			assert.False(t, ok, "delta %d elapsed %s", n, elapsed)
		}
	}
}

func TestClassify_SlowChangeNeverPaste(t *testing.T) {
	cur := FromText(structuredCode(50) + "\n\n\n")
	for _, elapsed := range []time.Duration{TimeThreshold, 121 * time.Millisecond, time.Second, time.Minute} {
		ok, err := Classify(FromText(""), cur, elapsed)
		require.NoError(t, err)
		assert.False(t, ok, "elapsed %s", elapsed)
	}
}

func TestClassify_CompactCodeWithoutRunIsNotPaste(t *testing.T) {
	// no three consecutive structural characters and no new lines
	code := strings.Repeat("function(a,b){return a+b;}", 2)[:50]

	ok, err := Classify(FromText(""), FromText(code), 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClassify_FastStructuredCodeIsPaste(t *testing.T) {
	code := structuredCode(50)
	require.Len(t, code, 50)

	ok, err := Classify(FromText(""), FromText(code), 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClassify_FastProseIsNotPaste(t *testing.T) {
	prose := "the quick brown fox jumps over a lazy dog and runs"
	require.Len(t, prose, 50)

	ok, err := Classify(FromText(""), FromText(prose), 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClassify_NewlineGrowthIsPaste(t *testing.T) {
	prev := FromText("abc")
	cur := FromText("abc\nfirstline\nsecondline")

	ok, err := Classify(prev, cur, 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClassify_SingleNewlineProseIsNotPaste(t *testing.T) {
	prev := FromText("abc")
	cur := FromText("abc\nfirstline secondline")

	ok, err := Classify(prev, cur, 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClassify_OnlyAddedSectionIsInspected(t *testing.T) {
	// the structured run lives in prev; the insertion itself is plain words
	prev := FromText("if (a) {   }")
	cur := FromText(prev.Text + "plainwordsonly")

	ok, err := Classify(prev, cur, 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClassify_NonExtensionInspectsWholeContent(t *testing.T) {
	prev := FromText("abc")
	cur := FromText("if (x) {   return y; }")

	ok, err := Classify(prev, cur, 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClassify_DeletionsCountByMagnitude(t *testing.T) {
	prev := FromText("if (x) {   return y; }")
	cur := FromText("if")

	ok, err := Classify(prev, cur, 10*time.Millisecond)
	require.NoError(t, err)
	// cur does not extend prev, so the whole cur ("if") is inspected
	assert.False(t, ok)
}

func TestClassify_SyntheticLengthsUsePlaceholder(t *testing.T) {
	ok, err := Classify(Synthetic(20, 0), Synthetic(40, 0), 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Classify(Synthetic(20, 0), Synthetic(25, 0), 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClassify_CountsCharactersNotBytes(t *testing.T) {
	// nine runes, eighteen bytes
	cur := FromText(strings.Repeat("é", 9))
	assert.Equal(t, 9, cur.Length)

	ok, err := Classify(FromText(""), cur, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClassify_MalformedInput(t *testing.T) {
	tests := []struct {
		name    string
		prev    Snapshot
		cur     Snapshot
		elapsed time.Duration
	}{
		{"negative prev length", Synthetic(-1, 0), Synthetic(20, 0), 0},
		{"negative cur length", Synthetic(0, 0), Synthetic(-20, 0), 0},
		{"negative newlines", Synthetic(0, -1), Synthetic(20, 0), 0},
		{"negative elapsed", Synthetic(0, 0), Synthetic(20, 0), -time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := Classify(tt.prev, tt.cur, tt.elapsed)
			require.Error(t, err)
			assert.False(t, ok)
			assert.True(t, errors.Is(err, ErrMalformedInput))

			var cerr *ClassificationError
			assert.True(t, errors.As(err, &cerr))
			assert.False(t, LooksLikePaste(tt.prev, tt.cur, tt.elapsed))
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	prev := FromText("def f():\n")
	cur := FromText("def f():\n    return [1, 2, 3]\n\n")
	first, err := Classify(prev, cur, 30*time.Millisecond)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Classify(prev, cur, 30*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestAddedText(t *testing.T) {
	assert.Equal(t, "def", AddedText(FromText("abc"), FromText("abcdef")))
	assert.Equal(t, "xyz", AddedText(FromText("abc"), FromText("xyz")))
	assert.Equal(t, "lo", AddedText(Synthetic(3, 0), FromText("hello")))
	assert.Equal(t, "hi", AddedText(Synthetic(9, 0), FromText("hi")))
	assert.Equal(t, "    ", AddedText(Synthetic(3, 0), Synthetic(7, 0)))
	assert.Len(t, AddedText(Synthetic(0, 0), Synthetic(1<<30, 0)), maxPlaceholder)
}

func TestConfirmsDeclaredPaste(t *testing.T) {
	assert.True(t, ConfirmsDeclaredPaste(MinPasteLen, 0))
	assert.True(t, ConfirmsDeclaredPaste(120, 999*time.Millisecond))
	assert.False(t, ConfirmsDeclaredPaste(120, time.Second))
	assert.False(t, ConfirmsDeclaredPaste(MinPasteLen-1, 0))
	assert.False(t, ConfirmsDeclaredPaste(120, -time.Millisecond))
}
