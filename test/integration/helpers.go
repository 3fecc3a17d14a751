// Package integration exercises complete platform flows through the
// public surfaces: the client SDK over the HTTP API, governance
// execution through the timelock, and the QUIC event feed.
package integration

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"VeriStake/client"
	"VeriStake/internal/api"
	"VeriStake/internal/attestation"
	"VeriStake/internal/events"
	"VeriStake/internal/feed"
	"VeriStake/internal/gov"
	"VeriStake/internal/identity"
	"VeriStake/internal/scoring"
	"VeriStake/internal/stake"
	"VeriStake/internal/storage"
	"VeriStake/internal/timelock"
	"VeriStake/internal/tokens"
	"VeriStake/internal/types"
	"VeriStake/internal/verifier"
)

// startTime is the platform clock at boot.
const startTime = 1_700_000_000

// platformOpts holds configuration for a test platform.
type platformOpts struct {
	minStake uint64
	minDelay uint64
	withFeed bool
}

// PlatformOption configures platform behavior.
type PlatformOption func(*platformOpts)

// WithMinStake sets the registration threshold.
func WithMinStake(n uint64) PlatformOption { return func(o *platformOpts) { o.minStake = n } }

// WithMinDelay sets the timelock floor in seconds.
func WithMinDelay(n uint64) PlatformOption { return func(o *platformOpts) { o.minDelay = n } }

// WithFeed starts the QUIC event feed on loopback.
func WithFeed() PlatformOption { return func(o *platformOpts) { o.withFeed = true } }

// Clock is a hand-driven platform clock. Handlers read it from server
// goroutines, so access is atomic.
type Clock struct {
	now atomic.Uint64
}

// Now returns the current platform time.
func (c *Clock) Now() uint64 { return c.now.Load() }

// Advance moves the clock forward by d seconds.
func (c *Clock) Advance(d uint64) { c.now.Add(d) }

// delegates resolves verifier ids from a plain map, standing in for
// proof system backends.
type delegates struct {
	mu sync.Mutex
	m  map[types.Principal]verifier.Delegate
}

// Bind attaches a delegate function to a verifier id.
func (d *delegates) Bind(id types.Principal, fn verifier.DelegateFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.m[id] = fn
}

func (d *delegates) Resolve(id types.Principal) (verifier.Delegate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delegate, ok := d.m[id]
	if !ok {
		return nil, fmt.Errorf("no delegate bound for %s", id)
	}

	return delegate, nil
}

// Platform is one in-process node: the full component stack around a
// single store, the HTTP API on a test listener and optionally the
// QUIC feed on loopback.
type Platform struct {
	t *testing.T

	Clock    *Clock
	Governor *client.Signer
	Client   *client.Client

	Journal   *events.Journal
	Authority *gov.Authority
	Tokens    *tokens.Ledger
	Stake     *stake.Ledger
	Scoring   *scoring.Engine
	Attest    *attestation.Ledger
	Verifiers *verifier.Registry
	Timelock  *timelock.Scheduler
	Delegates *delegates

	// FeedAddr is the feed's loopback address, empty without WithFeed.
	FeedAddr string

	minDelay uint64
}

// NewPlatform boots a full node in-process. Everything is torn down
// through t.Cleanup.
func NewPlatform(t *testing.T, opts ...PlatformOption) *Platform {
	t.Helper()

	o := &platformOpts{minStake: 500, minDelay: 3_600}
	for _, opt := range opts {
		opt(o)
	}

	store, err := storage.Open(t.TempDir())
	require.NoError(t, err, "open store")
	t.Cleanup(func() { store.Close() })

	journal, err := events.OpenJournal(store)
	require.NoError(t, err, "open journal")

	clock := &Clock{}
	clock.now.Store(startTime)

	governorKey, err := identity.Generate()
	require.NoError(t, err, "generate governor key")

	authority, err := gov.OpenAuthority(store, journal, clock.Now, governorKey.Principal())
	require.NoError(t, err, "open authority")

	var writeMu sync.Mutex
	tok := tokens.NewLedger(store, &writeMu)
	stk := stake.NewLedger(store, journal, tok, authority, clock.Now, o.minStake, &writeMu)
	eng := scoring.NewEngine(store, journal, authority, clock.Now, &writeMu)
	att := attestation.NewLedger(store, journal, stk, clock.Now, &writeMu)

	del := &delegates{m: make(map[types.Principal]verifier.Delegate)}
	reg := verifier.NewRegistry(store, journal, authority, del, clock.Now, &writeMu)

	calls := gov.NewCallRegistry()
	sched := timelock.NewScheduler(store, journal, authority, calls, clock.Now, o.minDelay, &writeMu)

	p := &Platform{
		t:         t,
		Clock:     clock,
		Governor:  client.SignerFromKey(governorKey),
		Journal:   journal,
		Authority: authority,
		Tokens:    tok,
		Stake:     stk,
		Scoring:   eng,
		Attest:    att,
		Verifiers: reg,
		Timelock:  sched,
		Delegates: del,
		minDelay:  o.minDelay,
	}

	registerTargets(calls, p)

	srv := api.New(":0", api.Deps{
		Stake:     stk,
		Scoring:   eng,
		Attest:    att,
		Verifiers: reg,
		Timelock:  sched,
		Authority: authority,
		Tokens:    tok,
		Journal:   journal,
		Now:       clock.Now,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	cli, err := client.NewClient(strings.TrimPrefix(ts.URL, "http://"))
	require.NoError(t, err, "connect client")
	p.Client = cli

	if o.withFeed {
		fs, err := feed.NewServer(journal, "127.0.0.1:0")
		require.NoError(t, err, "create feed server")
		require.NoError(t, fs.Start(), "start feed server")
		t.Cleanup(func() { fs.Close() })
		p.FeedAddr = fs.Addr()
	}

	return p
}

// registerTargets binds the privileged mutations to the call registry,
// mirroring the node binary's boot wiring.
func registerTargets(calls *gov.CallRegistry, p *Platform) {
	calls.Register(gov.TargetSetWeights, func(payload []byte, _ uint64) ([]byte, error) {
		weights, err := gov.DecodeSetWeights(payload)
		if err != nil {
			return nil, err
		}

		return nil, p.Scoring.SetWeights(p.Authority.Owner(), weights)
	})

	calls.Register(gov.TargetSlash, func(payload []byte, _ uint64) ([]byte, error) {
		id, amount, recipient, err := gov.DecodeSlash(payload)
		if err != nil {
			return nil, err
		}

		return nil, p.Stake.Slash(p.Authority.Owner(), id, amount, recipient)
	})

	calls.Register(gov.TargetAddVerifier, func(payload []byte, _ uint64) ([]byte, error) {
		id, err := gov.DecodePrincipal(payload)
		if err != nil {
			return nil, err
		}

		return nil, p.Verifiers.Add(p.Authority.Owner(), id)
	})

	calls.Register(gov.TargetRemoveVerifier, func(payload []byte, _ uint64) ([]byte, error) {
		id, err := gov.DecodePrincipal(payload)
		if err != nil {
			return nil, err
		}

		return nil, p.Verifiers.Remove(p.Authority.Owner(), id)
	})

	calls.Register(gov.TargetRotateGovernor, func(payload []byte, _ uint64) ([]byte, error) {
		next, err := gov.DecodePrincipal(payload)
		if err != nil {
			return nil, err
		}

		return nil, p.Authority.RotateOwner(p.Authority.Owner(), next)
	})
}

// NewSigner returns a fresh signer holding amount tokens.
func (p *Platform) NewSigner(amount uint64) *client.Signer {
	p.t.Helper()

	s, err := client.NewSigner()
	require.NoError(p.t, err, "new signer")

	if amount > 0 {
		require.NoError(p.t, p.Tokens.Mint(s.Principal(), amount), "mint")
	}

	return s
}

// Admit deposits amount and registers the signer as an attestor.
func (p *Platform) Admit(s *client.Signer, amount uint64) {
	p.t.Helper()

	_, err := s.Deposit(p.Client, amount)
	require.NoError(p.t, err, "deposit")

	_, err = s.Register(p.Client)
	require.NoError(p.t, err, "register")
}

// Govern schedules an operation as the governor, waits out the delay
// and executes it.
func (p *Platform) Govern(target types.Principal, payload []byte) []byte {
	p.t.Helper()

	id, err := p.Governor.Schedule(p.Client, target, 0, payload, p.minDelay)
	require.NoError(p.t, err, "schedule")

	p.Clock.Advance(p.minDelay + 1)

	out, err := p.Governor.Execute(p.Client, id)
	require.NoError(p.t, err, "execute")

	return out
}

// EventKinds returns the kind names of all journal events from the
// given sequence on, via the HTTP fallback.
func (p *Platform) EventKinds(from uint64) []string {
	p.t.Helper()

	recs, err := p.Client.Events(from, 0)
	require.NoError(p.t, err, "read events")

	kinds := make([]string, len(recs))
	for i, rec := range recs {
		kinds[i] = rec.Kind
	}

	return kinds
}

// requireAPIError asserts that err carries the given HTTP status.
func requireAPIError(t *testing.T, err error, status int) {
	t.Helper()

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr, "expected an API error, got %v", err)
	require.Equal(t, status, apiErr.Status, "unexpected status: %s", apiErr.Message)
}
