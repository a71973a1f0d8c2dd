package wasmbin

import (
	"strings"

	"github.com/tetratelabs/wazero/api"
)

// Builder assembles small core modules: host-facing glue such as the shared
// memory provider, and guest modules for tests. Imports must be declared
// before functions so that function indices are stable.
type Builder struct {
	types     []funcType
	typeIndex map[string]uint32
	imports   []builtImport
	funcs     []builtFunc
	memory    *Limits
	exports   []Export
	data      []dataSegment
	nImported uint32
}

type funcType struct {
	params  []api.ValueType
	results []api.ValueType
}

type builtImport struct {
	module, name string
	kind         ExternKind
	typeIdx      uint32
	limits       Limits
}

type builtFunc struct {
	typeIdx uint32
	locals  []api.ValueType
	body    []byte
}

type dataSegment struct {
	offset uint32
	data   []byte
}

// NewBuilder creates an empty module builder.
func NewBuilder() *Builder {
	return &Builder{typeIndex: make(map[string]uint32)}
}

func (b *Builder) typeOf(params, results []api.ValueType) uint32 {
	var key strings.Builder
	for _, p := range params {
		key.WriteByte(ValType(p))
	}
	key.WriteByte(0)
	for _, r := range results {
		key.WriteByte(ValType(r))
	}
	if idx, ok := b.typeIndex[key.String()]; ok {
		return idx
	}
	idx := uint32(len(b.types))
	b.types = append(b.types, funcType{params: params, results: results})
	b.typeIndex[key.String()] = idx
	return idx
}

// ImportFunc declares a function import and returns its function index.
func (b *Builder) ImportFunc(module, name string, params, results []api.ValueType) uint32 {
	if len(b.funcs) > 0 {
		panic("wasmbin: imports must be declared before functions")
	}
	b.imports = append(b.imports, builtImport{
		module:  module,
		name:    name,
		kind:    ExternFunc,
		typeIdx: b.typeOf(params, results),
	})
	b.nImported++
	return b.nImported - 1
}

// ImportMemory declares a memory import.
func (b *Builder) ImportMemory(module, name string, lim Limits) {
	b.imports = append(b.imports, builtImport{module: module, name: name, kind: ExternMemory, limits: lim})
}

// Memory defines the module's own memory.
func (b *Builder) Memory(lim Limits) {
	b.memory = &lim
}

// ExportMemory exports memory 0 under name.
func (b *Builder) ExportMemory(name string) {
	b.exports = append(b.exports, Export{Name: name, Kind: ExternMemory})
}

// Func defines a function and exports it under name unless name is empty.
// body is the instruction sequence without the final end opcode.
func (b *Builder) Func(name string, params, results, locals []api.ValueType, body []byte) uint32 {
	idx := b.nImported + uint32(len(b.funcs))
	b.funcs = append(b.funcs, builtFunc{
		typeIdx: b.typeOf(params, results),
		locals:  locals,
		body:    body,
	})
	if name != "" {
		b.exports = append(b.exports, Export{Name: name, Kind: ExternFunc, Index: idx})
	}
	return idx
}

// ExportFunc exports function idx under name. Re-exporting an imported
// function lets one module name serve both host functions and a memory.
func (b *Builder) ExportFunc(name string, idx uint32) {
	b.exports = append(b.exports, Export{Name: name, Kind: ExternFunc, Index: idx})
}

// Data adds an active data segment for memory 0.
func (b *Builder) Data(offset uint32, data []byte) {
	b.data = append(b.data, dataSegment{offset: offset, data: data})
}

// Bytes encodes the module.
func (b *Builder) Bytes() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(b.types) > 0 {
		sec := AppendULEB128(nil, uint32(len(b.types)))
		for _, t := range b.types {
			sec = append(sec, 0x60)
			sec = AppendULEB128(sec, uint32(len(t.params)))
			for _, p := range t.params {
				sec = append(sec, ValType(p))
			}
			sec = AppendULEB128(sec, uint32(len(t.results)))
			for _, r := range t.results {
				sec = append(sec, ValType(r))
			}
		}
		out = appendSection(out, 0x01, sec)
	}

	if len(b.imports) > 0 {
		sec := AppendULEB128(nil, uint32(len(b.imports)))
		for _, imp := range b.imports {
			sec = appendName(sec, imp.module)
			sec = appendName(sec, imp.name)
			sec = append(sec, byte(imp.kind))
			switch imp.kind {
			case ExternFunc:
				sec = AppendULEB128(sec, imp.typeIdx)
			case ExternMemory:
				sec = appendLimits(sec, imp.limits)
			}
		}
		out = appendSection(out, secImport, sec)
	}

	if len(b.funcs) > 0 {
		sec := AppendULEB128(nil, uint32(len(b.funcs)))
		for _, f := range b.funcs {
			sec = AppendULEB128(sec, f.typeIdx)
		}
		out = appendSection(out, 0x03, sec)
	}

	if b.memory != nil {
		sec := AppendULEB128(nil, 1)
		sec = appendLimits(sec, *b.memory)
		out = appendSection(out, secMemory, sec)
	}

	if len(b.exports) > 0 {
		sec := AppendULEB128(nil, uint32(len(b.exports)))
		for _, e := range b.exports {
			sec = appendName(sec, e.Name)
			sec = append(sec, byte(e.Kind))
			sec = AppendULEB128(sec, e.Index)
		}
		out = appendSection(out, secExport, sec)
	}

	if len(b.funcs) > 0 {
		sec := AppendULEB128(nil, uint32(len(b.funcs)))
		for _, f := range b.funcs {
			body := AppendULEB128(nil, uint32(len(f.locals)))
			for _, l := range f.locals {
				body = AppendULEB128(body, 1)
				body = append(body, ValType(l))
			}
			body = append(body, f.body...)
			body = append(body, opEnd)
			sec = AppendULEB128(sec, uint32(len(body)))
			sec = append(sec, body...)
		}
		out = appendSection(out, 0x0a, sec)
	}

	if len(b.data) > 0 {
		sec := AppendULEB128(nil, uint32(len(b.data)))
		for _, d := range b.data {
			sec = append(sec, 0x00, opI32Const)
			sec = AppendSLEB128(sec, int32(d.offset))
			sec = append(sec, opEnd)
			sec = AppendULEB128(sec, uint32(len(d.data)))
			sec = append(sec, d.data...)
		}
		out = appendSection(out, 0x0b, sec)
	}

	return out
}

func appendSection(dst []byte, id byte, body []byte) []byte {
	dst = append(dst, id)
	dst = AppendULEB128(dst, uint32(len(body)))
	return append(dst, body...)
}

func appendLimits(dst []byte, lim Limits) []byte {
	var flags byte
	if lim.HasMax {
		flags |= 0x01
	}
	if lim.Shared {
		flags |= 0x02
	}
	dst = append(dst, flags)
	dst = AppendULEB128(dst, lim.Min)
	if lim.HasMax {
		dst = AppendULEB128(dst, lim.Max)
	}
	return dst
}

// MemoryProvider returns a module that defines a memory with lim and
// exports it as name. Instantiated under the module name a guest imports
// its memory from, it lets several guest instances share one memory.
func MemoryProvider(name string, lim Limits) []byte {
	b := NewBuilder()
	b.Memory(lim)
	b.ExportMemory(name)
	return b.Bytes()
}
