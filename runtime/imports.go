package runtime

import (
	"context"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/bridge"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/internal/wasmbin"
)

// hiddenSuffix names the host module whose functions a memory provider
// re-exports when the memory and host functions share an import module.
const hiddenSuffix = "#host"

// engine is one wazero runtime with the compute module compiled into it
// and every import the module needs already instantiated.
type engine struct {
	rt       wazero.Runtime
	compiled wazero.CompiledModule
}

func (e *engine) close(ctx context.Context) error {
	return e.rt.Close(ctx)
}

type hostImpl struct {
	name    string
	params  []api.ValueType
	results []api.ValueType
	fn      api.GoModuleFunc
}

// newEngine builds a runtime for the compute module. The primary engine
// fails on imports nothing provides; other engines stub them and leave out
// the primary-only host functions.
func (r *Runtime) newEngine(ctx context.Context, primary bool) (*engine, error) {
	cfg := wazero.NewRuntimeConfig().
		WithCompilationCache(r.cache).
		WithCloseOnContextDone(true)
	if r.threadsFeature {
		cfg = cfg.WithCoreFeatures(api.CoreFeaturesV2 | threadsFeature)
	}
	if r.opts.memoryLimitPages > 0 {
		cfg = cfg.WithMemoryLimitPages(r.opts.memoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)

	e, err := r.prepare(ctx, rt, primary)
	if err != nil {
		return nil, multierr.Append(err, rt.Close(ctx))
	}
	return e, nil
}

func (r *Runtime) prepare(ctx context.Context, rt wazero.Runtime, primary bool) (*engine, error) {
	compiled, err := rt.CompileModule(ctx, r.wasm)
	if err != nil {
		return nil, errors.Load("compile module", err)
	}

	if r.usesWASI {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
			return nil, errors.Instantiation(errors.PhaseBootstrap, err)
		}
	}
	if _, err := bridge.Instantiate(ctx, rt, r.opts.namespace); err != nil {
		return nil, err
	}

	groups, missing := r.resolve(compiled, primary)
	if len(missing) > 0 {
		return nil, errors.NewMissingImportsError(missing)
	}
	if err := r.provide(ctx, rt, groups); err != nil {
		return nil, err
	}
	return &engine{rt: rt, compiled: compiled}, nil
}

// resolve assigns an implementation to every function import the bridge and
// WASI do not cover. It returns the implementations grouped by module and,
// for the primary engine, the imports nothing provides.
func (r *Runtime) resolve(compiled wazero.CompiledModule, primary bool) (map[string][]hostImpl, []string) {
	groups := make(map[string][]hostImpl)
	var missing []string

	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		switch {
		case module == r.opts.namespace && bridge.Provides(name):
			continue
		case module == wasi_snapshot_preview1.ModuleName && r.usesWASI:
			continue
		}
		impl := hostImpl{name: name, params: def.ParamTypes(), results: def.ResultTypes()}
		if hf, ok := r.hostFunc(module, name); ok && primary {
			impl.fn = hf.Fn
		} else if primary {
			missing = append(missing, module+"#"+name)
			continue
		} else {
			impl.fn = stub(r.log, module, name, len(impl.results))
		}
		groups[module] = append(groups[module], impl)
	}

	if primary {
		for _, imp := range r.info.Imports {
			if imp.Kind == wasmbin.ExternTable || imp.Kind == wasmbin.ExternGlobal {
				missing = append(missing, imp.Module+"#"+imp.Name)
			}
		}
	}
	return groups, missing
}

func (r *Runtime) hostFunc(module, name string) (HostFunc, bool) {
	for _, hf := range r.opts.hostFuncs {
		if hf.Module == module && hf.Name == name {
			return hf, true
		}
	}
	return HostFunc{}, false
}

// provide instantiates the host modules in groups and, when the compute
// module imports its memory, the provider for it.
func (r *Runtime) provide(ctx context.Context, rt wazero.Runtime, groups map[string][]hostImpl) error {
	mem, hasMem := r.info.MemoryImport()

	modules := make([]string, 0, len(groups))
	for m := range groups {
		modules = append(modules, m)
	}
	sort.Strings(modules)

	for _, m := range modules {
		name := m
		if hasMem && m == mem.Module {
			name = m + hiddenSuffix
		}
		if err := instantiateHost(ctx, rt, name, groups[m]); err != nil {
			return err
		}
	}

	if !hasMem {
		return nil
	}
	b := wasmbin.NewBuilder()
	var reexports []uint32
	for _, impl := range groups[mem.Module] {
		reexports = append(reexports, b.ImportFunc(mem.Module+hiddenSuffix, impl.name, impl.params, impl.results))
	}
	b.Memory(*mem.Memory)
	b.ExportMemory(mem.Name)
	for i, impl := range groups[mem.Module] {
		b.ExportFunc(impl.name, reexports[i])
	}
	if _, err := rt.InstantiateWithConfig(ctx, b.Bytes(), wazero.NewModuleConfig().WithName(mem.Module)); err != nil {
		return errors.Instantiation(errors.PhaseBootstrap, err)
	}
	return nil
}

func instantiateHost(ctx context.Context, rt wazero.Runtime, module string, impls []hostImpl) error {
	hb := rt.NewHostModuleBuilder(module)
	for _, impl := range impls {
		hb.NewFunctionBuilder().
			WithGoModuleFunction(impl.fn, impl.params, impl.results).
			WithName(impl.name).
			Export(impl.name)
	}
	if _, err := hb.Instantiate(ctx); err != nil {
		return errors.Instantiation(errors.PhaseBootstrap, err)
	}
	return nil
}

func stub(log *zap.Logger, module, name string, results int) api.GoModuleFunc {
	return func(_ context.Context, _ api.Module, stack []uint64) {
		log.Debug("unresolved import called", zap.String("module", module), zap.String("name", name))
		for i := 0; i < results; i++ {
			stack[i] = 0
		}
	}
}
