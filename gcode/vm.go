package gcode

import (
	"github.com/nsfm/noskop/coord"
)

// VM will track machine position by interpreting gcode.
//
// Only motion, distance mode, units and position overrides are
// interpreted; every other block is accepted and ignored.
type VM struct {
	pos coord.Set

	relative bool
	inches   bool
}

// NewVM constructs a new VM with Marlin's power-on state.
func NewVM() *VM {
	return &VM{}
}

func (vm VM) Pos() coord.Set {
	return vm.pos
}

func applyBlock(p coord.Set, b Block, mul float64, relative bool) coord.Set {
	for _, g := range b {
		if g.Flag {
			continue
		}
		v := g.Arg * mul
		switch g.W {
		case 'X':
			p.X = pick(p.X, v, relative)
		case 'Y':
			p.Y = pick(p.Y, v, relative)
		case 'Z':
			p.Z = pick(p.Z, v, relative)
		case 'E':
			p.E = pick(p.E, v, relative)
		}
	}

	return p
}

func pick(cur, v float64, relative bool) float64 {
	if relative {
		return cur + v
	}
	return v
}

func (vm *VM) Run(b Block) error {
	err := b.Validate()
	if err != nil {
		return err
	}
	code, _ := b.Code()

	mul := 1.0
	if vm.inches {
		mul = 25.4
	}

	switch code {
	case Word{W: 'G', Arg: 90}:
		vm.relative = false
	case Word{W: 'G', Arg: 91}:
		vm.relative = true
	case Word{W: 'G', Arg: 20}:
		vm.inches = true
	case Word{W: 'G', Arg: 21}:
		vm.inches = false
	case Word{W: 'G', Arg: 28}:
		vm.pos = coord.Set{E: vm.pos.E}
	case Word{W: 'G', Arg: 92}:
		vm.pos = applyBlock(vm.pos, b[1:], mul, false)
	case Word{W: 'G', Arg: 0}, Word{W: 'G', Arg: 1}:
		vm.pos = applyBlock(vm.pos, b[1:], mul, vm.relative)
	}

	return nil
}
