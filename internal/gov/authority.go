package gov

import (
	"fmt"
	"sync"

	"VeriStake/internal/events"
	"VeriStake/internal/logger"
	"VeriStake/internal/storage"
	"VeriStake/internal/types"
)

// keyGovernor holds the current owner principal.
var keyGovernor = []byte("m:governor")

// Authority is the capability gate for privileged operations. Exactly
// one principal holds the governor role at a time; every privileged
// entry point calls Require before touching state. The role rotates
// through RotateOwner, itself a privileged call normally reached via
// the timelock.
type Authority struct {
	store   *storage.Store
	journal *events.Journal
	now     func() uint64

	mu    sync.RWMutex
	owner types.Principal
}

// OpenAuthority loads the stored owner, seeding it from genesis on
// first start. A stored owner always wins over the config value, so a
// rotation survives restarts.
func OpenAuthority(store *storage.Store, journal *events.Journal, now func() uint64, genesis types.Principal) (*Authority, error) {
	a := &Authority{
		store:   store,
		journal: journal,
		now:     now,
	}

	raw, err := store.Get(keyGovernor)
	if err != nil {
		return nil, fmt.Errorf("load governor:\n%w", err)
	}

	if raw == nil {
		if genesis.IsNull() {
			return nil, fmt.Errorf("no stored governor and no genesis governor configured")
		}
		if err := store.Set(keyGovernor, genesis[:]); err != nil {
			return nil, fmt.Errorf("seed governor:\n%w", err)
		}
		a.owner = genesis

		return a, nil
	}

	if len(raw) != len(a.owner) {
		return nil, fmt.Errorf("stored governor: got %d bytes, want %d", len(raw), len(a.owner))
	}
	copy(a.owner[:], raw)

	if !genesis.IsNull() && genesis != a.owner {
		logger.Warn("configured governor differs from stored governor, stored wins",
			"configured", genesis, "stored", a.owner)
	}

	return a, nil
}

// Owner returns the current governor principal.
func (a *Authority) Owner() types.Principal {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.owner
}

// Require returns an AuthorizationError unless caller holds the
// governor role right now.
func (a *Authority) Require(caller types.Principal) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if caller != a.owner {
		return types.Authorizationf("caller %s is not the governor", caller)
	}

	return nil
}

// RotateOwner hands the governor role to a new principal.
func (a *Authority) RotateOwner(caller, newOwner types.Principal) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if caller != a.owner {
		return types.Authorizationf("caller %s is not the governor", caller)
	}
	if newOwner.IsNull() {
		return types.Validationf("new governor is the null identity")
	}

	var batch storage.Batch
	batch.Set(keyGovernor, newOwner[:])

	_, err := a.journal.Commit(&batch, events.Event{
		Kind:      events.KindGovernorRotated,
		Timestamp: a.now(),
		Actor:     caller,
		Subject:   newOwner,
	})
	if err != nil {
		return err
	}

	a.owner = newOwner
	logger.Info("governor rotated", "from", caller, "to", newOwner)

	return nil
}
