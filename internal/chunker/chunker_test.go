package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		wantErr bool
	}{
		{name: "valid", size: 500, overlap: 50},
		{name: "zero overlap", size: 10, overlap: 0},
		{name: "zero size", size: 0, overlap: 0, wantErr: true},
		{name: "negative size", size: -1, overlap: 0, wantErr: true},
		{name: "negative overlap", size: 10, overlap: -1, wantErr: true},
		{name: "overlap equals size", size: 10, overlap: 10, wantErr: true},
		{name: "overlap exceeds size", size: 10, overlap: 11, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.size, tt.overlap)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidChunking)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestSplit(t *testing.T) {
	t.Run("empty text yields no chunks", func(t *testing.T) {
		c, err := New(10, 2)
		require.NoError(t, err)
		assert.Empty(t, c.Split(""))
		assert.Empty(t, c.Split("   \n\t  "))
	})

	t.Run("short text yields one chunk", func(t *testing.T) {
		c, err := New(100, 10)
		require.NoError(t, err)
		chunks := c.Split("hello world")
		require.Len(t, chunks, 1)
		assert.Equal(t, 0, chunks[0].Index)
		assert.Equal(t, "hello world", chunks[0].Text)
	})

	t.Run("exact size yields one chunk", func(t *testing.T) {
		c, err := New(5, 1)
		require.NoError(t, err)
		chunks := c.Split("abcde")
		require.Len(t, chunks, 1)
	})

	t.Run("overlap is carried between chunks", func(t *testing.T) {
		c, err := New(6, 2)
		require.NoError(t, err)
		chunks := c.Split("abcdefghij")
		require.Len(t, chunks, 2)
		assert.Equal(t, "abcdef", chunks[0].Text)
		assert.Equal(t, "efghij", chunks[1].Text)
	})

	t.Run("whitespace is normalized before chunking", func(t *testing.T) {
		c, err := New(50, 5)
		require.NoError(t, err)
		chunks := c.Split("  hello \n\n  world\tfoo  ")
		require.Len(t, chunks, 1)
		assert.Equal(t, "hello world foo", chunks[0].Text)
	})

	t.Run("multibyte runes are not split", func(t *testing.T) {
		c, err := New(4, 1)
		require.NoError(t, err)
		chunks := c.Split("日本語のテキスト")
		for _, ch := range chunks {
			assert.LessOrEqual(t, len([]rune(ch.Text)), 4)
		}
	})
}

func TestDeterminism(t *testing.T) {
	c, err := New(7, 3)
	require.NoError(t, err)

	text := strings.Repeat("the quick brown fox ", 20)
	first := c.Split(text)
	second := c.Split(text)
	assert.Equal(t, first, second)
}

func TestChunksIsRestartable(t *testing.T) {
	c, err := New(6, 2)
	require.NoError(t, err)

	seq := c.Chunks("abcdefghijkl")

	// Partial consumption must not affect a later full pass.
	for range seq {
		break
	}

	var texts []string
	for _, s := range seq {
		texts = append(texts, s)
	}
	assert.Equal(t, []string{"abcdef", "efghij", "ijkl"}, texts)
}

// Concatenating chunks while dropping the declared overlap from every
// chunk after the first must reconstruct the normalized input exactly.
func TestRoundTripReconstruction(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		text    string
	}{
		{name: "no overlap", size: 8, overlap: 0, text: strings.Repeat("abcdefghij", 13)},
		{name: "small overlap", size: 10, overlap: 3, text: strings.Repeat("lorem ipsum dolor ", 11)},
		{name: "large overlap", size: 20, overlap: 19, text: "the quick brown fox jumps over the lazy dog"},
		{name: "unicode", size: 5, overlap: 2, text: strings.Repeat("日本語テキスト処理", 7)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.size, tt.overlap)
			require.NoError(t, err)

			chunks := c.Split(tt.text)
			require.NotEmpty(t, chunks)

			var sb strings.Builder
			for i, ch := range chunks {
				runes := []rune(ch.Text)
				if i == 0 {
					sb.WriteString(ch.Text)
					continue
				}
				require.GreaterOrEqual(t, len(runes), tt.overlap)
				sb.WriteString(string(runes[tt.overlap:]))
			}
			assert.Equal(t, Normalize(tt.text), sb.String())
		})
	}
}
