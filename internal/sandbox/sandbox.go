package sandbox

import (
	"context"
	"errors"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

// Result is what a successful (or gracefully-failed-but-observed) guest
// run produced, per spec §4.5's execute() return shape.
type Result struct {
	Stdout          []byte
	Stderr          []byte
	Output          []byte
	ExitCode        uint32
	Duration        time.Duration
	PeakMemoryBytes uint32
	FuelConsumed    uint64
}

// Sandbox runs WASM guest modules against an "env" host-module ABI of six
// functions (host_log, host_write_stdout, host_write_stderr,
// host_write_output, host_read_input, host_get_input_len), under per-call
// memory, fuel, and wall-clock limits. One Sandbox's wazero.Runtime is
// reused across Execute calls; each call gets a fresh hostState and guest
// module instance so no state leaks between runs.
type Sandbox struct {
	runtime wazero.Runtime
	logFn   func(string)
}

// New creates a Sandbox backed by a fresh wazero runtime. logFn receives
// every host_log message; pass nil to discard them.
func New(ctx context.Context, logFn func(string)) *Sandbox {
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true))
	return &Sandbox{runtime: rt, logFn: logFn}
}

// Close releases the underlying wazero runtime and every module compiled
// against it.
func (s *Sandbox) Close(ctx context.Context) error {
	return s.runtime.Close(ctx)
}

// fuelListenerFactory adapts meter into wazero's experimental function
// listener hook so every call frame in the guest's call graph — not just
// the six host-ABI crossings — is charged, satisfying spec §4.5's tight
// infinite-loop-exhausts-fuel edge case even when the loop never calls a
// host function.
type fuelListenerFactory struct {
	meter  *meter
	cancel context.CancelFunc
}

func (f *fuelListenerFactory) NewListener(api.FunctionDefinition) experimental.FunctionListener {
	return &fuelListener{factory: f}
}

type fuelListener struct {
	factory *fuelListenerFactory
}

func (l *fuelListener) Before(ctx context.Context, _ api.Module, _ api.FunctionDefinition, _ []uint64, _ experimental.StackIterator) context.Context {
	if !l.factory.meter.charge() {
		l.factory.cancel()
	}
	return ctx
}

func (l *fuelListener) After(context.Context, api.Module, api.FunctionDefinition, []uint64) {}

func (l *fuelListener) Abort(context.Context, api.Module, api.FunctionDefinition, error) {}

// Execute runs moduleBytes' entrypoint export against input under cfg's
// memory/fuel/timeout/capability limits, per spec §4.5.
func (s *Sandbox) Execute(parentCtx context.Context, moduleBytes []byte, input []byte, cfg Config) (*Result, error) {
	cfg.sanitize()

	start := time.Now()
	fuel := newMeter(cfg.MaxFuel)
	hs := newHostState(cfg.Capabilities, input, fuel)

	timeoutCtx, cancelTimeout := context.WithTimeout(parentCtx, cfg.WallClockTimeout)
	defer cancelTimeout()

	runCtx, cancelRun := context.WithCancel(timeoutCtx)
	defer cancelRun()
	runCtx = experimental.WithFunctionListenerFactory(runCtx, &fuelListenerFactory{meter: fuel, cancel: cancelRun})

	compiled, err := s.runtime.CompileModule(runCtx, moduleBytes)
	if err != nil {
		return nil, errInvalidModule(err)
	}
	defer compiled.Close(runCtx)

	hostBuilder := s.runtime.NewHostModuleBuilder("env")
	hostBuilder.NewFunctionBuilder().WithFunc(func(_ context.Context, mod api.Module, ptr, length uint32) {
		hs.hostLog(mod.Memory(), ptr, length, s.logFn)
	}).Export("host_log")
	hostBuilder.NewFunctionBuilder().WithFunc(func(_ context.Context, mod api.Module, ptr, length uint32) {
		hs.hostWriteStdout(mod.Memory(), ptr, length)
	}).Export("host_write_stdout")
	hostBuilder.NewFunctionBuilder().WithFunc(func(_ context.Context, mod api.Module, ptr, length uint32) {
		hs.hostWriteStderr(mod.Memory(), ptr, length)
	}).Export("host_write_stderr")
	hostBuilder.NewFunctionBuilder().WithFunc(func(_ context.Context, mod api.Module, ptr, length uint32) {
		hs.hostWriteOutput(mod.Memory(), ptr, length)
	}).Export("host_write_output")
	hostBuilder.NewFunctionBuilder().WithFunc(func(_ context.Context, mod api.Module, bufPtr, bufLen uint32) uint32 {
		return hs.hostReadInput(mod.Memory(), bufPtr, bufLen)
	}).Export("host_read_input")
	hostBuilder.NewFunctionBuilder().WithFunc(func(context.Context, api.Module) uint32 {
		return hs.hostGetInputLen()
	}).Export("host_get_input_len")

	if _, err := hostBuilder.Instantiate(runCtx); err != nil {
		return nil, errInvalidModule(err)
	}

	modCfg := wazero.NewModuleConfig().WithName("guest")
	guest, err := s.runtime.InstantiateModule(runCtx, compiled, modCfg)
	if err != nil {
		return nil, classifyInstantiateErr(err, fuel, timeoutCtx)
	}
	defer guest.Close(runCtx)

	fn := guest.ExportedFunction(cfg.Entrypoint)
	if fn == nil {
		return nil, errInvalidModule(errors.New("entrypoint not exported: " + cfg.Entrypoint))
	}

	_, callErr := fn.Call(runCtx)
	duration := time.Since(start)

	result := &Result{
		Stdout:          hs.stdout,
		Stderr:          hs.stderr,
		Output:          hs.output,
		Duration:        duration,
		PeakMemoryBytes: hs.peakMemory,
		FuelConsumed:    fuel.spent(),
	}

	if callErr != nil {
		return result, classifyCallErr(callErr, fuel, timeoutCtx)
	}
	// MaxMemoryBytes is enforced by comparing the sampled peak against the
	// configured cap after the call returns, not by a hard wazero runtime
	// memory limit: the Sandbox's single wazero.Runtime is reused across
	// Execute calls that may each carry a different MaxMemoryBytes, and
	// wazero's memory limit is a runtime-level setting fixed at
	// construction. A guest that grows memory transiently past the cap and
	// shrinks back before returning won't be caught; one that's still over
	// at return time is reported as OutOfMemory.
	if cfg.MaxMemoryBytes > 0 && hs.peakMemory > cfg.MaxMemoryBytes {
		return result, errOutOfMemory()
	}
	return result, nil
}

// classifyCallErr maps a wazero execution error into spec §4.5's Failure
// taxonomy. Fuel exhaustion and timeout both cancel runCtx, so the meter's
// latched state is checked first — fuel exhaustion is diagnosed from
// meter state rather than from the cancellation error shape, since both
// paths surface as a cancelled context to fn.Call.
func classifyCallErr(err error, fuel *meter, timeoutCtx context.Context) error {
	if fuel.outOfFuel() {
		return errOutOfFuel()
	}
	if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
		return errTimeout()
	}
	if errors.Is(err, context.Canceled) {
		return errTimeout()
	}
	return errTrap(err.Error())
}

func classifyInstantiateErr(err error, fuel *meter, timeoutCtx context.Context) error {
	if fuel.outOfFuel() {
		return errOutOfFuel()
	}
	if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
		return errTimeout()
	}
	return errInvalidModule(err)
}
