package reader

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/unicode/norm"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want BlockContents
		arg  string
	}{
		{"module code", "x = 1 + 2\n", RunModule, ""},
		{"comment", "-- a remark\n", CommentLine, ""},
		{"prose", "' Some literate text.\n", ProseBlock, ""},
		{"type query", ":t foo\n", GetNameType, "foo"},
		{"command", ":p expr\n", Command, "p"},
		{"include", "include \"prelude.dx\"\n", IncludeSourceFile, "prelude.dx"},
		{"load", "load data.bin\n", LoadData, "data.bin"},
		{"blank", "\n\n", EmptyLines, ""},
		{"bare colon", ":\n", UnParseable, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks := Read([]byte(tt.src))
			require.Len(t, blocks, 1)
			assert.Equal(t, tt.want, blocks[0].Contents)
			assert.Equal(t, tt.arg, blocks[0].Arg)
		})
	}
}

func TestReadSplitsOnBlankLines(t *testing.T) {
	src := "x = 1\ny = x\n\n-- note\nz = 2\n"
	blocks := Read([]byte(src))
	require.Len(t, blocks, 4)
	assert.Equal(t, RunModule, blocks[0].Contents)
	assert.Equal(t, "x = 1\ny = x\n", blocks[0].Text)
	assert.Equal(t, EmptyLines, blocks[1].Contents)
	assert.Equal(t, CommentLine, blocks[2].Contents)
	assert.Equal(t, RunModule, blocks[3].Contents)
	assert.Equal(t, 5, blocks[3].Line)
}

func TestLineAndOffsetTracking(t *testing.T) {
	src := "a = 1\n\nb = 2\n"
	blocks := Read([]byte(src))
	require.Len(t, blocks, 3)
	assert.Equal(t, 1, blocks[0].Line)
	assert.Equal(t, 0, blocks[0].Offset)
	assert.Equal(t, 3, blocks[2].Line)
	assert.Equal(t, 7, blocks[2].Offset)
}

func TestNormalizeNFC(t *testing.T) {
	nfd := norm.NFD.String("café = 1\n")
	nfc := norm.NFC.String("café = 1\n")
	got := Normalize([]byte(nfd))
	if diff := cmp.Diff(nfc, string(got)); diff != "" {
		t.Errorf("NFD input did not normalize (-want +got):\n%s", diff)
	}
}

func TestNormalizeStripsBOM(t *testing.T) {
	src := append([]byte{0xEF, 0xBB, 0xBF}, []byte("x = 1\n")...)
	assert.Equal(t, "x = 1\n", string(Normalize(src)))
}
