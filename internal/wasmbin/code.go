package wasmbin

const (
	opBlock    = 0x02
	opIf       = 0x04
	opEnd      = 0x0b
	opReturn   = 0x0f
	opCall     = 0x10
	opDrop     = 0x1a
	opLocalGet = 0x20
	opI32Load  = 0x28
	opI32Store = 0x36
	opI32Const = 0x41
	opI32Eqz   = 0x45
	opI32Add   = 0x6a

	blockEmpty = 0x40
)

// Code accumulates a function body.
type Code struct {
	b []byte
}

// NewCode starts an empty function body.
func NewCode() *Code { return &Code{} }

// Bytes returns the instructions.
func (c *Code) Bytes() []byte { return c.b }

func (c *Code) op(op byte) *Code {
	c.b = append(c.b, op)
	return c
}

func (c *Code) opU(op byte, v uint32) *Code {
	c.b = AppendULEB128(append(c.b, op), v)
	return c
}

func (c *Code) LocalGet(i uint32) *Code { return c.opU(opLocalGet, i) }
func (c *Code) Call(fn uint32) *Code    { return c.opU(opCall, fn) }
func (c *Code) Drop() *Code             { return c.op(opDrop) }
func (c *Code) Return() *Code           { return c.op(opReturn) }
func (c *Code) I32Eqz() *Code           { return c.op(opI32Eqz) }
func (c *Code) I32Add() *Code           { return c.op(opI32Add) }

// Block opens a block with no result.
func (c *Code) Block() *Code { return c.op(opBlock).op(blockEmpty) }

// If opens an if with no result.
func (c *Code) If() *Code  { return c.op(opIf).op(blockEmpty) }
func (c *Code) End() *Code { return c.op(opEnd) }

func (c *Code) I32Const(v int32) *Code {
	c.b = AppendSLEB128(append(c.b, opI32Const), v)
	return c
}

// U32Const pushes v reinterpreted as i32.
func (c *Code) U32Const(v uint32) *Code { return c.I32Const(int32(v)) }

// I32Load loads from the address on the stack plus offset.
func (c *Code) I32Load(offset uint32) *Code {
	c.b = AppendULEB128(AppendULEB128(append(c.b, opI32Load), 2), offset)
	return c
}

// I32Store stores the value on the stack at the address below it plus
// offset.
func (c *Code) I32Store(offset uint32) *Code {
	c.b = AppendULEB128(AppendULEB128(append(c.b, opI32Store), 2), offset)
	return c
}

// StoreU32 stores a constant at a constant address.
func (c *Code) StoreU32(addr, v uint32) *Code {
	return c.U32Const(addr).U32Const(v).I32Store(0)
}

// StoreLocal stores local i at a constant address.
func (c *Code) StoreLocal(addr, i uint32) *Code {
	return c.U32Const(addr).LocalGet(i).I32Store(0)
}

// Increment adds one to the i32 at a constant address.
func (c *Code) Increment(addr uint32) *Code {
	return c.U32Const(addr).U32Const(addr).I32Load(0).I32Const(1).I32Add().I32Store(0)
}
