package stake

import (
	"encoding/binary"
	"fmt"
	"sync"

	"VeriStake/internal/events"
	"VeriStake/internal/gov"
	"VeriStake/internal/logger"
	"VeriStake/internal/storage"
	"VeriStake/internal/types"
)

// Key layout:
//
//	a:<32-byte principal> -> u64 LE balance + u8 registered flag
var prefixAttestor = []byte("a:")

// makeAttestorKey builds the storage key for an attestor record.
func makeAttestorKey(id types.Principal) []byte {
	key := make([]byte, len(prefixAttestor)+len(id))
	copy(key, prefixAttestor)
	copy(key[len(prefixAttestor):], id[:])

	return key
}

// record is the persistent state of one attestor. Records are created
// implicitly on first deposit and never deleted.
type record struct {
	balance    uint64
	registered bool
}

// encodeRecord serializes an attestor record.
// Format: u64 balance (little-endian) + u8 registered
func encodeRecord(r record) []byte {
	buf := make([]byte, 9)
	binary.LittleEndian.PutUint64(buf[:8], r.balance)
	if r.registered {
		buf[8] = 1
	}

	return buf
}

// decodeRecord parses an attestor record.
func decodeRecord(data []byte) (record, error) {
	if len(data) != 9 {
		return record{}, fmt.Errorf("attestor record: got %d bytes, want 9", len(data))
	}

	return record{
		balance:    binary.LittleEndian.Uint64(data[:8]),
		registered: data[8] == 1,
	}, nil
}

// Collateral moves units between external accounts and custody. Moves
// are staged into the operation's batch so the balance update and the
// transfer commit as one atomic unit; a staging failure aborts the
// whole operation with nothing applied.
type Collateral interface {
	TransferIn(batch *storage.Batch, from types.Principal, amount uint64) error
	TransferOut(batch *storage.Batch, to types.Principal, amount uint64) error
}

// Ledger owns attestor balances and the registered flag. Invariant
// held after every operation: registered implies balance >= minStake.
type Ledger struct {
	store      *storage.Store
	journal    *events.Journal
	collateral Collateral
	authority  *gov.Authority
	now        func() uint64
	minStake   uint64
	writeMu    *sync.Mutex // writeMu is the shared platform write lock
}

// NewLedger wires a stake ledger. minStake is the admission threshold;
// writeMu is the platform write lock shared by every mutating
// component.
func NewLedger(store *storage.Store, journal *events.Journal, collateral Collateral, authority *gov.Authority, now func() uint64, minStake uint64, writeMu *sync.Mutex) *Ledger {
	return &Ledger{
		store:      store,
		journal:    journal,
		collateral: collateral,
		authority:  authority,
		now:        now,
		minStake:   minStake,
		writeMu:    writeMu,
	}
}

// MinStake returns the admission threshold.
func (l *Ledger) MinStake() uint64 {
	return l.minStake
}

// getRecord loads an attestor record, zero-valued if absent.
func (l *Ledger) getRecord(id types.Principal) (record, error) {
	raw, err := l.store.Get(makeAttestorKey(id))
	if err != nil {
		return record{}, fmt.Errorf("read attestor:\n%w", err)
	}
	if raw == nil {
		return record{}, nil
	}

	return decodeRecord(raw)
}

// Deposit credits an attestor's stake and pulls the same amount of
// collateral into custody. The two land in one atomic commit; if the
// collateral move cannot be staged the balance is untouched.
func (l *Ledger) Deposit(id types.Principal, amount uint64) error {
	if id.IsNull() {
		return types.Validationf("null identity")
	}
	if amount == 0 {
		return types.Validationf("amount must be positive")
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	rec, err := l.getRecord(id)
	if err != nil {
		return err
	}

	newBalance := rec.balance + amount
	if newBalance < rec.balance {
		return types.Validationf("deposit overflows balance")
	}
	rec.balance = newBalance

	var batch storage.Batch
	batch.Set(makeAttestorKey(id), encodeRecord(rec))

	if err := l.collateral.TransferIn(&batch, id, amount); err != nil {
		return types.ExternalCallf("collateral transfer in: %v", err)
	}

	_, err = l.journal.Commit(&batch, events.Event{
		Kind:      events.KindDeposited,
		Timestamp: l.now(),
		Actor:     id,
		Subject:   id,
		Amount:    amount,
		Aux:       rec.balance,
	})
	if err != nil {
		return err
	}

	logger.Debug("stake deposited", "attestor", id, "amount", amount, "balance", rec.balance)

	return nil
}

// Register admits an attestor. Requires a balance of at least
// minStake and that the attestor is not already registered.
func (l *Ledger) Register(id types.Principal) error {
	if id.IsNull() {
		return types.Validationf("null identity")
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	rec, err := l.getRecord(id)
	if err != nil {
		return err
	}

	if rec.balance < l.minStake {
		return types.Authorizationf("stake %d below minimum %d", rec.balance, l.minStake)
	}
	if rec.registered {
		return types.Statef("already registered")
	}
	rec.registered = true

	var batch storage.Batch
	batch.Set(makeAttestorKey(id), encodeRecord(rec))

	_, err = l.journal.Commit(&batch, events.Event{
		Kind:      events.KindRegistered,
		Timestamp: l.now(),
		Actor:     id,
		Subject:   id,
		Aux:       rec.balance,
	})
	if err != nil {
		return err
	}

	logger.Info("attestor registered", "attestor", id, "balance", rec.balance)

	return nil
}

// Deregister removes an attestor from the registered set. The stake
// stays in custody; withdrawal is a separate explicit step.
func (l *Ledger) Deregister(id types.Principal) error {
	if id.IsNull() {
		return types.Validationf("null identity")
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	rec, err := l.getRecord(id)
	if err != nil {
		return err
	}

	if !rec.registered {
		return types.Statef("not registered")
	}
	rec.registered = false

	var batch storage.Batch
	batch.Set(makeAttestorKey(id), encodeRecord(rec))

	_, err = l.journal.Commit(&batch, events.Event{
		Kind:      events.KindDeregistered,
		Timestamp: l.now(),
		Actor:     id,
		Subject:   id,
		Aux:       rec.balance,
	})
	if err != nil {
		return err
	}

	logger.Info("attestor deregistered", "attestor", id)

	return nil
}

// Withdraw pays stake back out to an unregistered attestor, atomically
// with the collateral move out of custody.
func (l *Ledger) Withdraw(id types.Principal, amount uint64) error {
	if id.IsNull() {
		return types.Validationf("null identity")
	}
	if amount == 0 {
		return types.Validationf("amount must be positive")
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	rec, err := l.getRecord(id)
	if err != nil {
		return err
	}

	if rec.registered {
		return types.Statef("still registered")
	}
	if amount > rec.balance {
		return types.Statef("insufficient balance: have %d, want %d", rec.balance, amount)
	}
	rec.balance -= amount

	var batch storage.Batch
	batch.Set(makeAttestorKey(id), encodeRecord(rec))

	if err := l.collateral.TransferOut(&batch, id, amount); err != nil {
		return types.ExternalCallf("collateral transfer out: %v", err)
	}

	_, err = l.journal.Commit(&batch, events.Event{
		Kind:      events.KindWithdrawn,
		Timestamp: l.now(),
		Actor:     id,
		Subject:   id,
		Amount:    amount,
		Aux:       rec.balance,
	})
	if err != nil {
		return err
	}

	logger.Debug("stake withdrawn", "attestor", id, "amount", amount, "balance", rec.balance)

	return nil
}

// Slash forcibly reduces an attestor's stake and pays the slashed
// amount to the recipient. Governor only. If the remainder falls
// below minStake while registered, the attestor is deregistered in
// the same commit and a deregistration event fires alongside the
// slash event.
func (l *Ledger) Slash(caller, id types.Principal, amount uint64, recipient types.Principal) error {
	if err := l.authority.Require(caller); err != nil {
		return err
	}
	if id.IsNull() {
		return types.Validationf("null identity")
	}
	if amount == 0 {
		return types.Validationf("amount must be positive")
	}
	if recipient.IsNull() {
		return types.Validationf("recipient is the null identity")
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	rec, err := l.getRecord(id)
	if err != nil {
		return err
	}

	if rec.balance < amount {
		return types.Statef("insufficient balance: have %d, want %d", rec.balance, amount)
	}
	rec.balance -= amount

	ts := l.now()
	evs := []events.Event{{
		Kind:      events.KindSlashed,
		Timestamp: ts,
		Actor:     caller,
		Subject:   id,
		Amount:    amount,
		Aux:       rec.balance,
	}}

	if rec.registered && rec.balance < l.minStake {
		rec.registered = false
		evs = append(evs, events.Event{
			Kind:      events.KindDeregistered,
			Timestamp: ts,
			Actor:     caller,
			Subject:   id,
			Aux:       rec.balance,
		})
	}

	var batch storage.Batch
	batch.Set(makeAttestorKey(id), encodeRecord(rec))

	if err := l.collateral.TransferOut(&batch, recipient, amount); err != nil {
		return types.ExternalCallf("collateral transfer out: %v", err)
	}

	if _, err := l.journal.Commit(&batch, evs...); err != nil {
		return err
	}

	logger.Warn("attestor slashed", "attestor", id, "amount", amount,
		"balance", rec.balance, "registered", rec.registered, "recipient", recipient)

	return nil
}

// StakeOf returns an attestor's stake balance, 0 if never seen.
func (l *Ledger) StakeOf(id types.Principal) (uint64, error) {
	rec, err := l.getRecord(id)
	if err != nil {
		return 0, err
	}

	return rec.balance, nil
}

// IsRegistered is the registration oracle read by the attestation
// ledger at post time.
func (l *Ledger) IsRegistered(id types.Principal) (bool, error) {
	rec, err := l.getRecord(id)
	if err != nil {
		return false, err
	}

	return rec.registered, nil
}

// Info returns an attestor's balance and registration flag.
func (l *Ledger) Info(id types.Principal) (balance uint64, registered bool, err error) {
	rec, err := l.getRecord(id)
	if err != nil {
		return 0, false, err
	}

	return rec.balance, rec.registered, nil
}
