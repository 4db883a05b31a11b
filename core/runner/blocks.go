package runner

import "strings"

// BlockSeparator ends each sentence block in parser output.
const BlockSeparator = "\n\n"

// SplitBlocks splits parser output into blocks on blank lines. Only an empty
// trailing segment is dropped, so output without a final separator keeps its
// last block.
func SplitBlocks(out string) []string {
	if out == "" {
		return nil
	}
	blocks := strings.Split(out, BlockSeparator)
	if blocks[len(blocks)-1] == "" {
		blocks = blocks[:len(blocks)-1]
	}
	return blocks
}
