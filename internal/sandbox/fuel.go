package sandbox

// meter tracks the cooperative instruction-budget counter that stands in
// for wazero's lack of native fuel metering. wazero (unlike wasmtime) has
// no concept of "fuel" — there is no per-instruction trap built into the
// engine. Fuel here is simulated by charging a cost every time control
// crosses a function boundary in the guest's call graph: every exported
// host function call (host.go) and, via the experimental function
// listener wired in sandbox.go, every call the guest makes to its own
// internal functions. A tight in-guest loop with no host calls still
// burns fuel because the listener fires on every call frame the guest
// pushes, not just on host-function crossings.
//
// The guest runs single-threaded and cooperative per spec §4.5's
// scheduling model, so meter needs no internal locking — it's only ever
// touched from the one goroutine driving a given Execute call.
type meter struct {
	budget    uint64
	consumed  uint64
	exhausted bool
}

func newMeter(budget uint64) *meter {
	return &meter{budget: budget}
}

// callCost is charged per call-graph edge (host call or guest-internal
// call). Kept at 1 so MaxFuel reads as "call-graph edges permitted",
// matching the spec's example budgets (max_fuel = 1_000_000 for a tight
// loop test) without needing a separate per-instruction cost table.
const callCost uint64 = 1

// charge consumes callCost units of fuel and reports whether the budget
// still has room. Once exhausted is latched true it stays true — a guest
// that runs out of fuel never gets more, even if later calls would be free.
func (m *meter) charge() bool {
	if m.exhausted {
		return false
	}
	m.consumed += callCost
	if m.consumed >= m.budget {
		m.exhausted = true
		return false
	}
	return true
}

// spent returns total fuel charged so far, reported back to the caller as
// ExecutionResult.FuelConsumed regardless of outcome.
func (m *meter) spent() uint64 {
	return m.consumed
}

func (m *meter) outOfFuel() bool {
	return m.exhausted
}
