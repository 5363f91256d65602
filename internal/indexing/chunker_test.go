package indexing

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunker_ShortText(t *testing.T) {
	spans := NewChunker(100, 20).Split("  hello world  ")
	require.Len(t, spans, 1)
	assert.Equal(t, "hello world", spans[0].Text)
	assert.Equal(t, 2, spans[0].Start)
	assert.Equal(t, 13, spans[0].End)
}

func TestChunker_Blank(t *testing.T) {
	assert.Empty(t, NewChunker(100, 20).Split(""))
	assert.Empty(t, NewChunker(100, 20).Split(" \n\n\t "))
}

func TestChunker_OffsetsMatchSource(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 60)
	runes := []rune(text)

	spans := NewChunker(200, 40).Split(text)
	require.Greater(t, len(spans), 10)

	for i, sp := range spans {
		assert.LessOrEqual(t, utf8.RuneCountInString(sp.Text), 200, "chunk %d", i)
		assert.Equal(t, sp.Text, string(runes[sp.Start:sp.End]), "chunk %d", i)
		if i > 0 {
			prev := spans[i-1]
			assert.Greater(t, sp.Start, prev.Start, "chunks advance")
			assert.Less(t, sp.Start, prev.End, "chunks overlap")
		}
	}
	assert.True(t, strings.HasSuffix(strings.TrimSpace(text), spans[len(spans)-1].Text))
}

func TestChunker_PrefersParagraphBreaks(t *testing.T) {
	para := strings.Repeat("a", 60)
	text := para + "\n\n" + para + "\n\n" + para

	spans := NewChunker(100, 0).Split(text)
	require.Len(t, spans, 3)
	for _, sp := range spans {
		assert.Equal(t, para, sp.Text)
	}
}

func TestChunker_HardSplitWithoutBoundaries(t *testing.T) {
	text := strings.Repeat("x", 250)
	spans := NewChunker(100, 10).Split(text)

	require.Len(t, spans, 3)
	assert.Equal(t, 0, spans[0].Start)
	assert.Equal(t, 100, spans[0].End)
	assert.Equal(t, 90, spans[1].Start)
	assert.Equal(t, 180, spans[2].Start)
	assert.Equal(t, 250, spans[2].End)
}

func TestChunker_MultibyteRunes(t *testing.T) {
	text := strings.Repeat("ü", 15)
	spans := NewChunker(10, 2).Split(text)
	require.Len(t, spans, 2)
	assert.Equal(t, strings.Repeat("ü", 10), spans[0].Text)
	assert.Equal(t, 8, spans[1].Start)
	assert.Equal(t, 15, spans[1].End)
}

func TestNewChunker_Defaults(t *testing.T) {
	c := NewChunker(0, -1)
	assert.Equal(t, 1000, c.Size)
	assert.Equal(t, 200, c.Overlap)

	c = NewChunker(50, 50)
	assert.Equal(t, 50, c.Size)
	assert.Equal(t, 10, c.Overlap)
}

func TestNormalizeText(t *testing.T) {
	in := "Title  \r\n\r\n\r\n\r\nBody line   \nnext\n\n\n"
	assert.Equal(t, "Title\n\nBody line\nnext", normalizeText(in))
}

func TestChunker_ZeroValueUsesDefaults(t *testing.T) {
	text := strings.Repeat("Retrieval needs chunks that fit the embedding window. ", 60)

	tests := []struct {
		name    string
		chunker Chunker
		want    Chunker
	}{
		{"zero value", Chunker{}, NewChunker(0, 0)},
		{"negative overlap", Chunker{Size: 100, Overlap: -5}, NewChunker(100, -5)},
		{"overlap not below size", Chunker{Size: 100, Overlap: 100}, NewChunker(100, 100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spans := tt.chunker.Split(text)
			require.NotEmpty(t, spans)
			assert.Equal(t, tt.want.Split(text), spans)
		})
	}
}
