// Package proofvm runs proof verification inside sandboxed WASM
// modules. Each module implements one verification backend; the pool
// compiles them once, keeps them hot and instantiates per call. Gas
// metering bounds how much work a single verification may burn.
package proofvm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/zeebo/blake3"

	"VeriStake/internal/logger"
	"VeriStake/internal/types"
)

var (
	// ErrModuleNotFound is returned when no module carries the given id.
	ErrModuleNotFound = errors.New("module not found")

	// ErrGasExhausted is returned when verification runs out of gas.
	ErrGasExhausted = errors.New("gas exhausted")
)

// DefaultGasLimit bounds one verification unless configured otherwise.
const DefaultGasLimit = 10_000_000

// moduleTag domain-separates verifier module ids from other blake3
// uses, so a module id can never collide with a key-derived principal.
var moduleTag = []byte("veristake-verifier")

// ModuleID derives the verifier identity of a WASM module from its
// bytes. Governance enables these ids in the verifier registry.
func ModuleID(wasmBytes []byte) types.Principal {
	h := blake3.New()
	h.Write(moduleTag)
	h.Write(wasmBytes)

	var id types.Principal
	h.Sum(id[:0])

	return id
}

// Pool manages compiled verifier modules, keyed by module id.
type Pool struct {
	runtime wazero.Runtime
	modules map[types.Principal]wazero.CompiledModule
	mu      sync.RWMutex
	execMu  sync.Mutex // execMu serializes runs: host functions register under the fixed module name "env"
}

// New creates a Pool with an initialized wazero runtime.
func New() *Pool {
	return &Pool{
		runtime: wazero.NewRuntime(context.Background()),
		modules: make(map[types.Principal]wazero.CompiledModule),
	}
}

// Load compiles a verifier module and returns its derived id. Loading
// the same bytes twice is a no-op returning the same id.
func (p *Pool) Load(wasmBytes []byte) (types.Principal, error) {
	id := ModuleID(wasmBytes)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.modules[id]; exists {
		return id, nil
	}

	compiled, err := p.runtime.CompileModule(context.Background(), wasmBytes)
	if err != nil {
		return types.Principal{}, fmt.Errorf("compile module: %w", err)
	}

	p.modules[id] = compiled

	return id, nil
}

// LoadDir compiles every .wasm file in a directory and returns the
// loaded module ids.
func (p *Pool) LoadDir(dir string) ([]types.Principal, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read verifier dir: %w", err)
	}

	var ids []types.Principal
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".wasm" {
			continue
		}

		wasmBytes, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}

		id, err := p.Load(wasmBytes)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", entry.Name(), err)
		}

		logger.Info("verifier module loaded", "file", entry.Name(), "id", id)
		ids = append(ids, id)
	}

	return ids, nil
}

// Has reports whether a module is loaded.
func (p *Pool) Has(id types.Principal) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	_, exists := p.modules[id]

	return exists
}

// Verify runs a module against a proof and public inputs. The module
// reads the framed input, checks the proof and writes back a single
// verdict byte: 1 accepts, 0 rejects, anything else is a fault.
// Returns the verdict and the gas consumed.
func (p *Pool) Verify(id types.Principal, proof, publicInputs []byte, gasLimit uint64) (bool, uint64, error) {
	p.mu.RLock()
	compiled, exists := p.modules[id]
	p.mu.RUnlock()

	if !exists {
		return false, 0, ErrModuleNotFound
	}

	output, gasUsed, err := p.run(compiled, frameInput(proof, publicInputs), gasLimit)
	if err != nil {
		return false, gasUsed, err
	}

	if len(output) == 0 {
		return false, gasUsed, fmt.Errorf("module returned no verdict")
	}

	switch output[0] {
	case 0:
		return false, gasUsed, nil
	case 1:
		return true, gasUsed, nil
	default:
		return false, gasUsed, fmt.Errorf("malformed verdict byte %d", output[0])
	}
}

// run instantiates a compiled module and calls its verify export.
func (p *Pool) run(compiled wazero.CompiledModule, input []byte, gasLimit uint64) ([]byte, uint64, error) {
	p.execMu.Lock()
	defer p.execMu.Unlock()

	ctx := context.Background()

	execCtx := &execContext{
		input:    input,
		gasLimit: gasLimit,
	}

	hostModule, err := p.buildHostModule(ctx, execCtx)
	if err != nil {
		return nil, 0, fmt.Errorf("build host module: %w", err)
	}
	defer hostModule.Close(ctx)

	instance, err := p.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig())
	if err != nil {
		return nil, execCtx.gasUsed, fmt.Errorf("instantiate module: %w", err)
	}
	defer instance.Close(ctx)

	execCtx.memory = instance.Memory()

	return p.callVerify(ctx, instance, execCtx)
}

// callVerify calls the verify function on the WASM instance.
func (p *Pool) callVerify(ctx context.Context, instance api.Module, execCtx *execContext) ([]byte, uint64, error) {
	verifyFn := instance.ExportedFunction("verify")
	if verifyFn == nil {
		return nil, execCtx.gasUsed, fmt.Errorf("verify function not exported")
	}

	_, err := verifyFn.Call(ctx)
	if err != nil {
		if execCtx.gasExhausted {
			return nil, execCtx.gasUsed, ErrGasExhausted
		}

		return nil, execCtx.gasUsed, fmt.Errorf("verify: %w", err)
	}

	return execCtx.output, execCtx.gasUsed, nil
}

// Unload removes a module from the pool.
func (p *Pool) Unload(id types.Principal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if compiled, exists := p.modules[id]; exists {
		compiled.Close(context.Background())
		delete(p.modules, id)
	}
}

// Close releases all resources held by the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, compiled := range p.modules {
		compiled.Close(context.Background())
		delete(p.modules, id)
	}

	return p.runtime.Close(context.Background())
}
