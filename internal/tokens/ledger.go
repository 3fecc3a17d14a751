package tokens

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"

	"VeriStake/internal/storage"
	"VeriStake/internal/types"
)

// Key layout:
//
//	t:<32-byte principal> -> u64 LE balance
var prefixAccount = []byte("t:")

// Custody is the account holding all staked collateral. It is a
// derived principal no key pair can sign for.
var Custody = deriveCustody()

func deriveCustody() types.Principal {
	h := blake3.New()
	h.Write([]byte("veristake-custody"))

	var p types.Principal
	h.Sum(p[:0])

	return p
}

// makeAccountKey builds the storage key for an account.
func makeAccountKey(p types.Principal) []byte {
	key := make([]byte, len(prefixAccount)+len(p))
	copy(key, prefixAccount)
	copy(key[len(prefixAccount):], p[:])

	return key
}

// Ledger is the asset ledger backing attestor collateral. The staking
// side consumes it through its TransferIn/TransferOut capability,
// which stage writes into the caller's batch so a balance change and
// its collateral move land in one atomic commit.
type Ledger struct {
	store   *storage.Store
	writeMu *sync.Mutex // writeMu is the shared platform write lock
}

// NewLedger creates a ledger over the store. writeMu is the platform
// write lock shared by every mutating component.
func NewLedger(store *storage.Store, writeMu *sync.Mutex) *Ledger {
	return &Ledger{
		store:   store,
		writeMu: writeMu,
	}
}

// BalanceOf returns the balance of an account, 0 if it never existed.
func (l *Ledger) BalanceOf(p types.Principal) (uint64, error) {
	raw, err := l.store.Get(makeAccountKey(p))
	if err != nil {
		return 0, fmt.Errorf("read account:\n%w", err)
	}
	if raw == nil {
		return 0, nil
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("account record: got %d bytes, want 8", len(raw))
	}

	return binary.LittleEndian.Uint64(raw), nil
}

// CustodyBalance returns the total collateral held in custody.
func (l *Ledger) CustodyBalance() (uint64, error) {
	return l.BalanceOf(Custody)
}

// Mint credits freshly issued units to an account. Genesis grants use
// this; the issue bypasses the journal.
func (l *Ledger) Mint(to types.Principal, amount uint64) error {
	if to.IsNull() {
		return fmt.Errorf("mint to null account")
	}
	if amount == 0 {
		return nil
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	balance, err := l.BalanceOf(to)
	if err != nil {
		return err
	}

	newBalance := balance + amount
	if newBalance < balance {
		return fmt.Errorf("mint overflow: balance=%d + amount=%d wraps", balance, amount)
	}

	var batch storage.Batch
	l.stageBalance(&batch, to, newBalance)

	return l.store.Commit(&batch)
}

// TransferIn moves collateral from an account into custody, staged
// into the caller's batch. The caller holds the platform write lock
// and commits the batch; nothing is visible until then.
func (l *Ledger) TransferIn(batch *storage.Batch, from types.Principal, amount uint64) error {
	return l.stageMove(batch, from, Custody, amount)
}

// TransferOut moves collateral from custody back to an account,
// staged into the caller's batch.
func (l *Ledger) TransferOut(batch *storage.Batch, to types.Principal, amount uint64) error {
	return l.stageMove(batch, Custody, to, amount)
}

// stageMove validates and stages a balance move between two accounts.
func (l *Ledger) stageMove(batch *storage.Batch, from, to types.Principal, amount uint64) error {
	if from.IsNull() || to.IsNull() {
		return fmt.Errorf("transfer involving null account")
	}
	if from == to {
		return fmt.Errorf("transfer from an account to itself")
	}

	fromBalance, err := l.BalanceOf(from)
	if err != nil {
		return err
	}
	if fromBalance < amount {
		return fmt.Errorf("insufficient funds: account %s has %d, needs %d", from, fromBalance, amount)
	}

	toBalance, err := l.BalanceOf(to)
	if err != nil {
		return err
	}

	newToBalance := toBalance + amount
	if newToBalance < toBalance {
		return fmt.Errorf("transfer overflow: balance=%d + amount=%d wraps", toBalance, amount)
	}

	l.stageBalance(batch, from, fromBalance-amount)
	l.stageBalance(batch, to, newToBalance)

	return nil
}

// stageBalance stages one account write into the batch.
func (l *Ledger) stageBalance(batch *storage.Batch, p types.Principal, balance uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], balance)

	batch.Set(makeAccountKey(p), buf[:])
}
