package hostlib

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"testing"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/memview"
	"github.com/wippyai/wasm-bridge/object"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "blobs.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if _, ok, err := s.Load(ctx, "save-1"); ok || err != nil {
		t.Fatalf("empty store load = %v, %v", ok, err)
	}
	if err := s.Save(ctx, "save-1", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, "save-1", []byte("v2")); err != nil {
		t.Fatal(err)
	}
	if data, ok, err := s.Load(ctx, "save-1"); !ok || err != nil || string(data) != "v2" {
		t.Errorf("load = %q, %v, %v", data, ok, err)
	}
	if ok, err := s.Delete(ctx, "save-1"); !ok || err != nil {
		t.Errorf("delete = %v, %v", ok, err)
	}
	if ok, _ := s.Delete(ctx, "save-1"); ok {
		t.Error("second delete reported a row")
	}
}

func TestStore_Lib(t *testing.T) {
	s := openStore(t)
	lib := s.Lib()
	ctx := context.Background()

	mem := memview.NewBuffer(1, 1)
	table := object.NewTable(nil)
	key := table.Register(object.Text("slot"))
	mem.Write(0x100, []byte("state"))

	raw := []uint32{0x100, 5, uint32(key)}
	p, err := method(t, lib, "save")(ctx, object.Call{
		Args:   []object.Object{object.Numeric(raw[0]), object.Numeric(raw[1]), object.Numeric(raw[2])},
		Raw:    raw,
		Memory: mem,
		Table:  table,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	mem.Write(0x100, []byte("XXXXX"))
	if v, err := await(t, p); v != nil || err != nil {
		t.Fatalf("save settled with %v, %v", v, err)
	}

	load := method(t, lib, "load")
	p, _ = load(ctx, object.Call{Args: []object.Object{object.Text("slot")}})
	if v, err := await(t, p); err != nil || !bytesEqual(v, "state") {
		t.Errorf("load = %v, %v; want bytes copied at call time", v, err)
	}

	save := method(t, lib, "save")
	p, err = save(ctx, object.Call{Args: []object.Object{object.Bytes("other"), object.Text("slot2")}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := await(t, p); err != nil {
		t.Fatal(err)
	}

	del := method(t, lib, "delete")
	for _, want := range []object.Numeric{1, 0} {
		p, _ = del(ctx, object.Call{Args: []object.Object{object.Text("slot")}})
		if v, err := await(t, p); err != nil || v != want {
			t.Errorf("delete = %v, %v; want %v", v, err, want)
		}
	}
	p, _ = load(ctx, object.Call{Args: []object.Object{object.Text("slot")}})
	if v, err := await(t, p); v != nil || err != nil {
		t.Errorf("load of deleted key = %v, %v; want null", v, err)
	}

	if _, err := save(ctx, object.Call{Raw: []uint32{0xFFFF0, 64, uint32(key)}, Args: []object.Object{object.Numeric(0xFFFF0), object.Numeric(64), object.Numeric(key)}, Memory: mem, Table: table}); !stderrors.Is(err, errors.ErrOutOfRange) {
		t.Errorf("save out of range = %v", err)
	}
	if _, err := save(ctx, object.Call{}); !stderrors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("save without arguments = %v", err)
	}
}

func bytesEqual(v object.Object, want string) bool {
	b, ok := v.(object.Bytes)
	return ok && string(b) == want
}
