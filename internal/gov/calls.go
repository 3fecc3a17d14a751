package gov

import (
	"sync"

	"github.com/zeebo/blake3"

	"VeriStake/internal/types"
)

// targetTag domain-separates target ids from other blake3 uses.
var targetTag = []byte("veristake-target")

// Canonical names of the privileged targets a node registers at boot.
// Operations are scheduled against TargetID of these.
const (
	TargetSetWeights     = "score/set-weights"
	TargetSlash          = "stake/slash"
	TargetAddVerifier    = "verifier/add"
	TargetRemoveVerifier = "verifier/remove"
	TargetRotateGovernor = "gov/rotate"
)

// Callable is the narrow capability the timelock invokes: opaque
// payload and value in, output bytes or failure out.
type Callable func(payload []byte, value uint64) ([]byte, error)

// TargetID derives the stable identity of a named callable. Operators
// schedule operations against these ids.
func TargetID(name string) types.Principal {
	h := blake3.New()
	h.Write(targetTag)
	h.Write([]byte(name))

	var p types.Principal
	h.Sum(p[:0])

	return p
}

// callEntry pairs a callable with its registered name for logs.
type callEntry struct {
	name string
	fn   Callable
}

// CallRegistry resolves target principals to callables at execute
// time. Targets are registered once during node wiring; resolution of
// an unknown target is the invoked operation's failure, not a panic.
type CallRegistry struct {
	mu      sync.RWMutex
	targets map[types.Principal]callEntry
}

// NewCallRegistry creates an empty registry.
func NewCallRegistry() *CallRegistry {
	return &CallRegistry{
		targets: make(map[types.Principal]callEntry),
	}
}

// Register binds a named callable and returns its target id.
func (r *CallRegistry) Register(name string, fn Callable) types.Principal {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := TargetID(name)
	r.targets[id] = callEntry{name: name, fn: fn}

	return id
}

// Call invokes the callable behind a target id.
func (r *CallRegistry) Call(target types.Principal, payload []byte, value uint64) ([]byte, error) {
	r.mu.RLock()
	entry, ok := r.targets[target]
	r.mu.RUnlock()

	if !ok {
		return nil, types.ExternalCallf("no callable registered for target %s", target)
	}

	return entry.fn(payload, value)
}

// Name returns the registered name of a target, or empty if unknown.
func (r *CallRegistry) Name(target types.Principal) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.targets[target].name
}
