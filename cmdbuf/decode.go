package cmdbuf

import (
	"github.com/wippyai/wasm-bridge/errors"
)

// MaxConstantWidth is the widest constant vertex attribute.
const MaxConstantWidth = 4

// Command is one decoded instruction with the operands it consumed.
// F and U alias the pools passed to Decode.
type Command struct {
	Op    Opcode
	F     []float32
	U     []uint32
	Index int
}

// Decode splits a command buffer into commands without touching any device.
// It fails with a protocol error on an unknown opcode, on a pool that runs
// out before an opcode has its operands, on a constant attribute wider than
// MaxConstantWidth, and when operands are left over after the last opcode.
func Decode(ops []byte, f []float32, u []uint32) ([]Command, error) {
	cmds := make([]Command, 0, len(ops))
	var fc, uc int
	for i, b := range ops {
		op := Opcode(b)
		if !op.Valid() {
			return nil, errors.New(errors.PhaseCommand, errors.KindProtocol).
				Index(i).
				Value(b).
				Detail("unknown opcode %d", b).
				Build()
		}
		a := arities[op]

		if uc+a.u > len(u) {
			return nil, underflow(i, op, "u32", a.u, len(u)-uc)
		}
		cu := u[uc : uc+a.u : uc+a.u]

		nf := a.f
		if nf < 0 {
			width := cu[-nf-1]
			if width == 0 || width > MaxConstantWidth {
				return nil, errors.Protocol(errors.PhaseCommand, i,
					"%s: constant width %d outside 1..%d", op, width, MaxConstantWidth)
			}
			nf = int(width)
		}
		if fc+nf > len(f) {
			return nil, underflow(i, op, "f32", nf, len(f)-fc)
		}
		cf := f[fc : fc+nf : fc+nf]

		cmds = append(cmds, Command{Op: op, F: cf, U: cu, Index: i})
		uc += a.u
		fc += nf
	}

	if fc != len(f) || uc != len(u) {
		return nil, errors.Protocol(errors.PhaseCommand, -1,
			"operands left over: consumed %d of %d f32 and %d of %d u32", fc, len(f), uc, len(u))
	}
	return cmds, nil
}

func underflow(i int, op Opcode, pool string, want, have int) error {
	return errors.Protocol(errors.PhaseCommand, i,
		"%s needs %d %s operands, %d remain", op, want, pool, have)
}
