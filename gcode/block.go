package gcode

import (
	"errors"
	"strings"
)

// Block is one line of gcode.
type Block []Word

func (b Block) Arg(w byte) (bool, float64) {
	for _, g := range b {
		if g.W == w {
			return true, g.Arg
		}
	}
	return false, 0
}

// Code returns the leading command word, e.g. G0 or M400.
func (b Block) Code() (Word, bool) {
	if len(b) == 0 || (b[0].W != 'G' && b[0].W != 'M') {
		return Word{}, false
	}
	return b[0], true
}

func (b Block) Validate() error {
	if len(b) == 0 {
		return errors.New("empty block")
	}
	if _, ok := b.Code(); !ok {
		return errors.New("block must start with a G or M word")
	}
	var checkWord [256]bool
	for _, g := range b {
		if !g.IsValid() {
			return errors.New("invalid word in block")
		}
		if g.W != 'G' && checkWord[g.W] {
			return errors.New("word was repeated in a block")
		}
		checkWord[g.W] = true
	}

	return nil
}

// String renders the block as a single line without a terminator.
func (b Block) String() string {
	parts := make([]string, len(b))
	for i, w := range b {
		parts[i] = w.String()
	}
	return strings.Join(parts, " ")
}
