package timelock

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"VeriStake/internal/events"
	"VeriStake/internal/gov"
	"VeriStake/internal/storage"
	"VeriStake/internal/types"
)

const testMinDelay = 100

func testPrincipal(b byte) types.Principal {
	var p types.Principal
	p[0] = b
	return p
}

var governor = testPrincipal(0xA0)

// testClock is a manually advanced time source.
type testClock struct {
	now uint64
}

func (c *testClock) Now() uint64 { return c.now }

type testEnv struct {
	scheduler *Scheduler
	calls     *gov.CallRegistry
	clock     *testClock
	journal   *events.Journal
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := storage.Open(t.TempDir() + "/db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	journal, err := events.OpenJournal(store)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}

	clock := &testClock{now: 1_700_000_000}

	authority, err := gov.OpenAuthority(store, journal, clock.Now, governor)
	if err != nil {
		t.Fatalf("open authority: %v", err)
	}

	var writeMu sync.Mutex
	calls := gov.NewCallRegistry()

	return &testEnv{
		scheduler: NewScheduler(store, journal, authority, calls, clock.Now, testMinDelay, &writeMu),
		calls:     calls,
		clock:     clock,
		journal:   journal,
	}
}

func TestScheduleIsPrivileged(t *testing.T) {
	env := newTestEnv(t)
	target := env.calls.Register("test/noop", func([]byte, uint64) ([]byte, error) { return nil, nil })

	_, err := env.scheduler.Schedule(testPrincipal(7), target, 0, nil, testMinDelay)
	if !errors.Is(err, types.ErrAuthorization) {
		t.Errorf("got %v, want authorization error", err)
	}
}

func TestScheduleEnforcesMinDelay(t *testing.T) {
	env := newTestEnv(t)
	target := env.calls.Register("test/noop", func([]byte, uint64) ([]byte, error) { return nil, nil })

	_, err := env.scheduler.Schedule(governor, target, 0, nil, testMinDelay-1)
	if !errors.Is(err, types.ErrValidation) {
		t.Errorf("short delay: got %v, want validation error", err)
	}

	if _, err := env.scheduler.Schedule(governor, target, 0, nil, testMinDelay); err != nil {
		t.Errorf("exact minimum delay: %v", err)
	}
}

func TestScheduleReplayGuard(t *testing.T) {
	env := newTestEnv(t)
	target := env.calls.Register("test/noop", func([]byte, uint64) ([]byte, error) { return nil, nil })

	first, err := env.scheduler.Schedule(governor, target, 5, []byte("p"), testMinDelay)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	// Byte-identical call in the same second collides.
	_, err = env.scheduler.Schedule(governor, target, 5, []byte("p"), testMinDelay)
	if !errors.Is(err, types.ErrState) {
		t.Errorf("same-second replay: got %v, want state error", err)
	}

	// One second later the digest differs and scheduling works.
	env.clock.now++
	second, err := env.scheduler.Schedule(governor, target, 5, []byte("p"), testMinDelay)
	if err != nil {
		t.Fatalf("Schedule a second later: %v", err)
	}
	if first == second {
		t.Error("operation ids should differ across scheduling times")
	}
}

// A scheduled operation cannot run before its delay elapses, runs
// exactly once after, and is refused forever after that.
func TestExecuteLifecycle(t *testing.T) {
	env := newTestEnv(t)

	invocations := 0
	target := env.calls.Register("test/counter", func(payload []byte, value uint64) ([]byte, error) {
		invocations++
		return []byte("done"), nil
	})

	id, err := env.scheduler.Schedule(governor, target, 0, []byte("payload"), testMinDelay)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	_, err = env.scheduler.Execute(testPrincipal(1), id)
	if !errors.Is(err, types.ErrState) || !strings.Contains(err.Error(), "too early") {
		t.Fatalf("premature execute: got %v, want too-early state error", err)
	}

	env.clock.now += testMinDelay - 1
	if _, err := env.scheduler.Execute(testPrincipal(1), id); !errors.Is(err, types.ErrState) {
		t.Fatalf("one second early: got %v, want state error", err)
	}

	// ExecuteAfter is a floor: the boundary second is allowed. Anyone
	// may execute, not just the governor.
	env.clock.now++
	output, err := env.scheduler.Execute(testPrincipal(1), id)
	if err != nil {
		t.Fatalf("due execute: %v", err)
	}
	if !bytes.Equal(output, []byte("done")) {
		t.Errorf("output: got %q", output)
	}
	if invocations != 1 {
		t.Fatalf("invocations: got %d, want 1", invocations)
	}

	_, err = env.scheduler.Execute(testPrincipal(2), id)
	if !errors.Is(err, types.ErrState) || !strings.Contains(err.Error(), "already executed") {
		t.Errorf("second execute: got %v, want already-executed state error", err)
	}
	if invocations != 1 {
		t.Errorf("invocations after refused re-execute: got %d, want 1", invocations)
	}
}

func TestExecuteUnknownOperation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.scheduler.Execute(governor, types.Hash{1, 2, 3})
	if !errors.Is(err, types.ErrState) || !strings.Contains(err.Error(), "no such operation") {
		t.Errorf("got %v, want no-such-operation state error", err)
	}
}

func TestExecutePassesPayloadAndValue(t *testing.T) {
	env := newTestEnv(t)

	var gotPayload []byte
	var gotValue uint64
	target := env.calls.Register("test/capture", func(payload []byte, value uint64) ([]byte, error) {
		gotPayload = payload
		gotValue = value
		return nil, nil
	})

	id, err := env.scheduler.Schedule(governor, target, 42, []byte{0xDE, 0xAD}, testMinDelay)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	env.clock.now += testMinDelay
	if _, err := env.scheduler.Execute(governor, id); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if !bytes.Equal(gotPayload, []byte{0xDE, 0xAD}) || gotValue != 42 {
		t.Errorf("target saw payload=%v value=%d", gotPayload, gotValue)
	}
}

// A failing target leaves the operation executed with no retry path.
func TestFailingTargetStrandsOperation(t *testing.T) {
	env := newTestEnv(t)

	target := env.calls.Register("test/broken", func([]byte, uint64) ([]byte, error) {
		return nil, fmt.Errorf("target refused")
	})

	id, err := env.scheduler.Schedule(governor, target, 0, nil, testMinDelay)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	env.clock.now += testMinDelay
	_, err = env.scheduler.Execute(governor, id)
	if !errors.Is(err, types.ErrExternalCall) {
		t.Fatalf("got %v, want external call error", err)
	}

	op, exists, err := env.scheduler.Operation(id)
	if err != nil || !exists {
		t.Fatalf("Operation: exists=%v err=%v", exists, err)
	}
	if !op.Executed {
		t.Error("stranded operation must stay executed")
	}

	if _, err := env.scheduler.Execute(governor, id); !errors.Is(err, types.ErrState) {
		t.Errorf("re-execute stranded: got %v, want state error", err)
	}

	evs, err := env.journal.ReadSince(1, 0)
	if err != nil {
		t.Fatalf("ReadSince: %v", err)
	}

	var executed, stranded bool
	for _, e := range evs {
		switch e.Kind {
		case events.KindOperationExecuted:
			executed = true
		case events.KindOperationStranded:
			stranded = true
		}
	}
	if !executed || !stranded {
		t.Errorf("events: executed=%v stranded=%v, want both", executed, stranded)
	}
}

func TestExecuteUnregisteredTarget(t *testing.T) {
	env := newTestEnv(t)

	// Scheduled against a target id nothing is bound to.
	id, err := env.scheduler.Schedule(governor, gov.TargetID("test/ghost"), 0, nil, testMinDelay)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	env.clock.now += testMinDelay
	if _, err := env.scheduler.Execute(governor, id); !errors.Is(err, types.ErrExternalCall) {
		t.Errorf("got %v, want external call error", err)
	}
}

func TestScheduledEvent(t *testing.T) {
	env := newTestEnv(t)
	target := env.calls.Register("test/noop", func([]byte, uint64) ([]byte, error) { return nil, nil })

	id, err := env.scheduler.Schedule(governor, target, 7, []byte("x"), testMinDelay+20)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	evs, err := env.journal.ReadSince(1, 0)
	if err != nil {
		t.Fatalf("ReadSince: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("got %d events, want 1", len(evs))
	}

	e := evs[0]
	if e.Kind != events.KindOperationScheduled || e.Actor != governor || e.Subject != target {
		t.Errorf("event: kind=%s actor=%s subject=%s", e.Kind, e.Actor, e.Subject)
	}
	if e.Amount != 7 || e.Aux != env.clock.now+testMinDelay+20 || e.Hash != id {
		t.Errorf("event payload: amount=%d aux=%d hash=%s", e.Amount, e.Aux, e.Hash)
	}
}

func TestOperationIDDeterminism(t *testing.T) {
	target := gov.TargetID("test/noop")

	a := OperationID(target, 1, []byte("p"), 1000)
	b := OperationID(target, 1, []byte("p"), 1000)
	if a != b {
		t.Error("same inputs must digest to the same id")
	}

	if OperationID(target, 2, []byte("p"), 1000) == a {
		t.Error("value must contribute to the id")
	}
	if OperationID(target, 1, []byte("q"), 1000) == a {
		t.Error("payload must contribute to the id")
	}
	if OperationID(target, 1, []byte("p"), 1001) == a {
		t.Error("scheduling time must contribute to the id")
	}
}

func TestOperationRoundTrip(t *testing.T) {
	ops := []Operation{
		{},
		{Target: testPrincipal(1), Value: 5, ScheduledAt: 10, ExecuteAfter: 110, Executed: true, Payload: []byte("call")},
	}

	for _, op := range ops {
		got, err := decodeOperation(encodeOperation(op))
		if err != nil {
			t.Fatalf("decodeOperation: %v", err)
		}
		if got.Target != op.Target || got.Value != op.Value ||
			got.ScheduledAt != op.ScheduledAt || got.ExecuteAfter != op.ExecuteAfter ||
			got.Executed != op.Executed || !bytes.Equal(got.Payload, op.Payload) {
			t.Errorf("round trip: got %+v, want %+v", got, op)
		}
	}

	if _, err := decodeOperation([]byte{1}); err == nil {
		t.Error("expected error for short record")
	}
}
