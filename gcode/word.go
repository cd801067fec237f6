package gcode

import (
	"strconv"
	"strings"
)

// Precision is the number of decimal places written for word arguments (0.1um).
const Precision = 4

// Word is a single letter/value pair. Flag words, such as the axis list of
// G28, carry no value.
type Word struct {
	W    byte
	Arg  float64
	Flag bool
}

func (w Word) IsValid() bool {
	return w.W >= 'A' && w.W <= 'Z'
}

func formatFloat(f float64, prec int) string {
	s := strconv.FormatFloat(f, 'f', prec, 64)
	if strings.ContainsRune(s, '.') {
		s = strings.TrimRight(s, "0")
	}
	s = strings.TrimRight(s, ".")
	if s == "-0" {
		return "0"
	}
	return s
}

func (w Word) String() string {
	if w.Flag {
		return string(w.W)
	}
	return string(w.W) + formatFloat(w.Arg, Precision)
}
