// Package reader splits literate source text into top-level source
// blocks and classifies them. The concrete-syntax parser is an
// external collaborator: blocks tagged RunModule carry their raw text
// for it; everything else is handled or passed through by the driver.
package reader

import (
	"bytes"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// BlockContents classifies a source block.
type BlockContents int

const (
	RunModule BlockContents = iota
	Command
	GetNameType
	IncludeSourceFile
	LoadData
	ProseBlock
	CommentLine
	EmptyLines
	UnParseable
)

func (c BlockContents) String() string {
	switch c {
	case RunModule:
		return "module"
	case Command:
		return "command"
	case GetNameType:
		return "nametype"
	case IncludeSourceFile:
		return "include"
	case LoadData:
		return "loaddata"
	case ProseBlock:
		return "prose"
	case CommentLine:
		return "comment"
	case EmptyLines:
		return "empty"
	default:
		return "unparseable"
	}
}

// SourceBlock is one top-level input unit.
type SourceBlock struct {
	Line     int    // 1-based line of the block's first line
	Offset   int    // byte offset of the block start
	Text     string // raw text, trailing newline included
	Contents BlockContents
	// Arg carries the command name, queried name, or file path for
	// Command, GetNameType, IncludeSourceFile and LoadData blocks.
	Arg string
}

// bomUTF8 is the UTF-8 byte order mark.
var bomUTF8 = []byte{0xEF, 0xBB, 0xBF}

// Normalize strips a UTF-8 BOM and applies Unicode NFC normalization
// so lexically equivalent input splits into identical blocks.
func Normalize(src []byte) []byte {
	src = bytes.TrimPrefix(src, bomUTF8)
	if !norm.NFC.IsNormal(src) {
		src = norm.NFC.Bytes(src)
	}
	return src
}

// Read splits normalized source into classified blocks. Blocks are
// separated by blank lines, except that comment and prose lines stand
// alone.
func Read(src []byte) []SourceBlock {
	text := string(Normalize(src))
	var blocks []SourceBlock
	line := 1
	offset := 0
	for len(text) > 0 {
		blockText, rest := nextChunk(text)
		b := classify(blockText)
		b.Line = line
		b.Offset = offset
		blocks = append(blocks, b)
		line += strings.Count(blockText, "\n")
		offset += len(blockText)
		text = rest
	}
	return blocks
}

// nextChunk takes the next block: a run of blank lines, a single
// comment/prose/command line, or lines up to the next blank line.
func nextChunk(text string) (string, string) {
	first, _ := splitLine(text)
	trimmed := strings.TrimSpace(first)
	switch {
	case trimmed == "":
		// Collect the whole run of blank lines.
		i := 0
		for i < len(text) {
			l, rest := splitLine(text[i:])
			if strings.TrimSpace(l) != "" {
				break
			}
			i += len(text[i:]) - len(rest)
		}
		return text[:i], text[i:]
	case strings.HasPrefix(trimmed, "--"),
		strings.HasPrefix(trimmed, "'"),
		strings.HasPrefix(trimmed, ":"):
		_, rest := splitLine(text)
		return text[:len(text)-len(rest)], rest
	default:
		// Up to (not including) the next blank line.
		i := 0
		for i < len(text) {
			l, rest := splitLine(text[i:])
			if strings.TrimSpace(l) == "" {
				break
			}
			i += len(text[i:]) - len(rest)
		}
		return text[:i], text[i:]
	}
}

func splitLine(text string) (string, string) {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i+1], text[i+1:]
	}
	return text, ""
}

func classify(text string) SourceBlock {
	trimmed := strings.TrimSpace(text)
	b := SourceBlock{Text: text}
	switch {
	case trimmed == "":
		b.Contents = EmptyLines
	case strings.HasPrefix(trimmed, "--"):
		b.Contents = CommentLine
	case strings.HasPrefix(trimmed, "'"):
		b.Contents = ProseBlock
	case strings.HasPrefix(trimmed, ":t "):
		b.Contents = GetNameType
		b.Arg = strings.TrimSpace(trimmed[len(":t"):])
	case strings.HasPrefix(trimmed, ":"):
		fields := strings.Fields(trimmed[1:])
		if len(fields) == 0 {
			b.Contents = UnParseable
			return b
		}
		b.Contents = Command
		b.Arg = fields[0]
	case strings.HasPrefix(trimmed, "include "):
		b.Contents = IncludeSourceFile
		b.Arg = unquote(strings.TrimSpace(trimmed[len("include"):]))
	case strings.HasPrefix(trimmed, "load "):
		b.Contents = LoadData
		b.Arg = unquote(strings.TrimSpace(trimmed[len("load"):]))
	default:
		b.Contents = RunModule
	}
	return b
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
