package wasmbin

import (
	"github.com/wippyai/wasm-bridge/errors"
)

// ExternKind is the kind byte of an import or export.
type ExternKind byte

const (
	ExternFunc   ExternKind = 0x00
	ExternTable  ExternKind = 0x01
	ExternMemory ExternKind = 0x02
	ExternGlobal ExternKind = 0x03
)

func (k ExternKind) String() string {
	switch k {
	case ExternFunc:
		return "func"
	case ExternTable:
		return "table"
	case ExternMemory:
		return "memory"
	case ExternGlobal:
		return "global"
	}
	return "unknown"
}

// Limits are memory limits in pages.
type Limits struct {
	Min    uint32
	Max    uint32
	HasMax bool
	Shared bool
}

// Import is one entry of the import section.
type Import struct {
	Module string
	Name   string
	Kind   ExternKind
	// Memory is set for memory imports.
	Memory *Limits
}

// Export is one entry of the export section.
type Export struct {
	Name  string
	Kind  ExternKind
	Index uint32
}

// Info is what Scan learns about a module.
type Info struct {
	Imports []Import
	Exports []Export
	// Memory is the module's own memory, if it defines one.
	Memory *Limits
}

// MemoryImport returns the first memory import.
func (i *Info) MemoryImport() (Import, bool) {
	for _, imp := range i.Imports {
		if imp.Kind == ExternMemory {
			return imp, true
		}
	}
	return Import{}, false
}

// SharedMemory reports whether the module imports or defines a shared memory.
func (i *Info) SharedMemory() bool {
	if imp, ok := i.MemoryImport(); ok {
		return imp.Memory.Shared
	}
	return i.Memory != nil && i.Memory.Shared
}

// HasExport reports whether name is exported with kind.
func (i *Info) HasExport(name string, kind ExternKind) bool {
	for _, e := range i.Exports {
		if e.Name == name && e.Kind == kind {
			return true
		}
	}
	return false
}

const (
	secImport = 0x02
	secMemory = 0x05
	secExport = 0x07
)

// Scan reads the import, memory and export sections of a module. Other
// sections are skipped without validation.
func Scan(bin []byte) (*Info, error) {
	if len(bin) < 8 || string(bin[:4]) != "\x00asm" {
		return nil, errors.Load("not a wasm binary", nil)
	}
	if bin[4] != 1 || bin[5] != 0 || bin[6] != 0 || bin[7] != 0 {
		return nil, errors.Load("unsupported wasm binary version", nil)
	}

	info := &Info{}
	r := &reader{b: bin, pos: 8}
	for r.pos < len(r.b) && r.err == nil {
		id := r.u8()
		size := r.uleb()
		if r.err != nil {
			break
		}
		end := r.pos + int(size)
		if end > len(r.b) || end < r.pos {
			r.fail("section %d overruns the binary", id)
			break
		}
		sec := &reader{b: r.b[:end], pos: r.pos}
		switch id {
		case secImport:
			info.Imports = sec.imports()
		case secMemory:
			if n := sec.uleb(); n > 0 {
				lim := sec.limits()
				info.Memory = &lim
			}
		case secExport:
			info.Exports = sec.exports()
		}
		if sec.err != nil {
			return nil, sec.err
		}
		r.pos = end
	}
	if r.err != nil {
		return nil, r.err
	}
	return info, nil
}

type reader struct {
	b   []byte
	pos int
	err error
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = errors.New(errors.PhaseLoad, errors.KindDecode).
			Detail(format, args...).
			Value(r.pos).
			Build()
	}
}

func (r *reader) u8() byte {
	if r.err != nil {
		return 0
	}
	if r.pos >= len(r.b) {
		r.fail("unexpected end at offset %d", r.pos)
		return 0
	}
	v := r.b[r.pos]
	r.pos++
	return v
}

func (r *reader) uleb() uint32 {
	if r.err != nil {
		return 0
	}
	v, n := DecodeULEB128(r.b[r.pos:])
	if n == 0 {
		r.fail("malformed LEB128 at offset %d", r.pos)
		return 0
	}
	r.pos += n
	return v
}

func (r *reader) name() string {
	n := r.uleb()
	if r.err != nil {
		return ""
	}
	if uint64(r.pos)+uint64(n) > uint64(len(r.b)) {
		r.fail("name of %d bytes overruns section", n)
		return ""
	}
	s := string(r.b[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s
}

func (r *reader) limits() Limits {
	flags := r.u8()
	lim := Limits{Min: r.uleb()}
	if flags&0x01 != 0 {
		lim.HasMax = true
		lim.Max = r.uleb()
	}
	lim.Shared = flags&0x02 != 0
	if flags&^0x03 != 0 {
		r.fail("unsupported limits flags %#x", flags)
	}
	return lim
}

func (r *reader) imports() []Import {
	count := r.uleb()
	var out []Import
	for i := uint32(0); i < count && r.err == nil; i++ {
		imp := Import{Module: r.name(), Name: r.name(), Kind: ExternKind(r.u8())}
		switch imp.Kind {
		case ExternFunc:
			r.uleb()
		case ExternTable:
			r.u8()
			r.limits()
		case ExternMemory:
			lim := r.limits()
			imp.Memory = &lim
		case ExternGlobal:
			r.u8()
			r.u8()
		default:
			r.fail("unknown import kind %#x", imp.Kind)
		}
		out = append(out, imp)
	}
	return out
}

func (r *reader) exports() []Export {
	count := r.uleb()
	var out []Export
	for i := uint32(0); i < count && r.err == nil; i++ {
		out = append(out, Export{Name: r.name(), Kind: ExternKind(r.u8()), Index: r.uleb()})
	}
	return out
}
