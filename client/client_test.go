package client

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"VeriStake/internal/api"
	"VeriStake/internal/attestation"
	"VeriStake/internal/events"
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

const (
	testMinStake = uint64(500)
	testMinDelay = uint64(100)
)

// testClock is advanced by the test goroutine while handlers read it
// from the server's.
type testClock struct {
	now atomic.Uint64
}

func (c *testClock) Now() uint64 {
	return c.now.Load()
}

// mapResolver binds verifier ids to in-process delegates.
type mapResolver map[types.Principal]verifier.Delegate

func (m mapResolver) Resolve(id types.Principal) (verifier.Delegate, error) {
	d, ok := m[id]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}

	return d, nil
}

// testNode runs a full platform stack behind a loopback HTTP server.
type testNode struct {
	client   *Client
	clock    *testClock
	governor *Signer

	tokens   *tokens.Ledger
	scoring  *scoring.Engine
	registry *verifier.Registry
	resolver mapResolver
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()

	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	journal, err := events.OpenJournal(store)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}

	governorKey, err := identity.FromSeed(bytes.Repeat([]byte{0xA0}, 32))
	if err != nil {
		t.Fatalf("governor key: %v", err)
	}

	clock := &testClock{}
	clock.now.Store(1_700_000_000)
	writeMu := new(sync.Mutex)

	authority, err := gov.OpenAuthority(store, journal, clock.Now, governorKey.Principal())
	if err != nil {
		t.Fatalf("open authority: %v", err)
	}

	tok := tokens.NewLedger(store, writeMu)
	stk := stake.NewLedger(store, journal, tok, authority, clock.Now, testMinStake, writeMu)
	eng := scoring.NewEngine(store, journal, authority, clock.Now, writeMu)
	att := attestation.NewLedger(store, journal, stk, clock.Now, writeMu)

	resolver := mapResolver{}
	reg := verifier.NewRegistry(store, journal, authority, resolver, clock.Now, writeMu)

	calls := gov.NewCallRegistry()
	sched := timelock.NewScheduler(store, journal, authority, calls, clock.Now, testMinDelay, writeMu)

	calls.Register(gov.TargetSetWeights, func(payload []byte, value uint64) ([]byte, error) {
		weights, err := gov.DecodeSetWeights(payload)
		if err != nil {
			return nil, err
		}

		return nil, eng.SetWeights(authority.Owner(), weights)
	})

	srv := api.New(":0", api.Deps{
		Stake:     stk,
		Scoring:   eng,
		Attest:    att,
		Verifiers: reg,
		Timelock:  sched,
		Authority: authority,
		Tokens:    tok,
		Journal:   journal,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	c, err := NewClient(strings.TrimPrefix(ts.URL, "http://"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	return &testNode{
		client:   c,
		clock:    clock,
		governor: SignerFromKey(governorKey),
		tokens:   tok,
		scoring:  eng,
		registry: reg,
		resolver: resolver,
	}
}

// newFundedSigner creates a random signer holding tokens.
func (n *testNode) newFundedSigner(t *testing.T, amount uint64) *Signer {
	t.Helper()

	s, err := NewSigner()
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	if err := n.tokens.Mint(s.Principal(), amount); err != nil {
		t.Fatalf("mint: %v", err)
	}

	return s
}

func TestStakeLifecycle(t *testing.T) {
	node := newTestNode(t)
	signer := node.newFundedSigner(t, 1000)

	info, err := signer.Deposit(node.client, 1000)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if info.Balance != 1000 || info.Registered {
		t.Errorf("unexpected info after deposit: %+v", info)
	}

	info, err = signer.Register(node.client)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !info.Registered {
		t.Error("expected registered")
	}

	got, err := node.client.StakeOf(signer.Principal())
	if err != nil {
		t.Fatalf("stake of: %v", err)
	}
	if got.Balance != 1000 || !got.Registered {
		t.Errorf("unexpected stake view: %+v", got)
	}

	if _, err = signer.Deregister(node.client); err != nil {
		t.Fatalf("deregister: %v", err)
	}

	info, err = signer.Withdraw(node.client, 1000)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if info.Balance != 0 {
		t.Errorf("expected balance 0 after withdraw, got %d", info.Balance)
	}
}

func TestAttestAndRead(t *testing.T) {
	node := newTestNode(t)
	signer := node.newFundedSigner(t, 1000)

	if _, err := signer.Deposit(node.client, 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := signer.Register(node.client); err != nil {
		t.Fatalf("register: %v", err)
	}

	subject := types.Principal{7}
	featuresHash := types.Hash{1, 2, 3}

	index, err := signer.Attest(node.client, subject, featuresHash, 8100, []byte("ipfs://bafy"))
	if err != nil {
		t.Fatalf("attest: %v", err)
	}
	if index != 0 {
		t.Errorf("expected index 0, got %d", index)
	}

	count, err := node.client.AttestationCount(subject)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected count 1, got %d", count)
	}

	rec, err := node.client.AttestationAt(subject, 0)
	if err != nil {
		t.Fatalf("at: %v", err)
	}
	if rec.Score != 8100 || rec.Attestor != signer.Principal().String() {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.FeaturesHash != featuresHash.String() {
		t.Errorf("wrong features hash: %s", rec.FeaturesHash)
	}

	latest, err := node.client.LatestScore(subject)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Score != 8100 {
		t.Errorf("expected latest 8100, got %d", latest.Score)
	}
}

func TestUnregisteredAttestRejected(t *testing.T) {
	node := newTestNode(t)
	signer := node.newFundedSigner(t, 1000)

	_, err := signer.Attest(node.client, types.Principal{7}, types.Hash{1}, 1, nil)
	if err == nil {
		t.Fatal("expected rejection")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", apiErr.Status)
	}
	if apiErr.Message == "" {
		t.Error("expected server message")
	}
}

func TestScoreAndWeights(t *testing.T) {
	node := newTestNode(t)

	if err := node.scoring.SetWeights(node.governor.Principal(), []uint64{scoring.Scale}); err != nil {
		t.Fatalf("set weights: %v", err)
	}

	score, err := node.client.Score([]uint64{7500})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score != 7500 {
		t.Errorf("expected 7500, got %d", score)
	}

	weights, err := node.client.Weights()
	if err != nil {
		t.Fatalf("weights: %v", err)
	}
	if len(weights.Weights) != 1 || weights.Weights[0] != scoring.Scale {
		t.Errorf("unexpected weights: %+v", weights)
	}
	if weights.Scale != scoring.Scale {
		t.Errorf("expected scale %d, got %d", scoring.Scale, weights.Scale)
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	node := newTestNode(t)

	id := types.Principal{9}
	node.resolver[id] = verifier.DelegateFunc(func(proof, publicInputs []byte) (bool, error) {
		return bytes.Equal(proof, []byte("ok")), nil
	})
	if err := node.registry.Add(node.governor.Principal(), id); err != nil {
		t.Fatalf("add verifier: %v", err)
	}

	accepted, err := node.client.Verify(id, []byte("ok"), nil)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !accepted {
		t.Error("expected accept")
	}

	accepted, err = node.client.Verify(id, []byte("no"), nil)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if accepted {
		t.Error("expected reject")
	}

	info, err := node.client.VerifierInfo(id)
	if err != nil {
		t.Fatalf("verifier info: %v", err)
	}
	if !info.Enabled {
		t.Error("expected enabled")
	}
}

func TestGovernanceFlow(t *testing.T) {
	node := newTestNode(t)
	executor := node.newFundedSigner(t, 0)

	target := gov.TargetID(gov.TargetSetWeights)
	payload := gov.EncodeSetWeights([]uint64{6, 4})

	id, err := node.governor.Schedule(node.client, target, 0, payload, testMinDelay)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	_, err = executor.Execute(node.client, id)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict {
		t.Fatalf("expected 409 before the delay, got %v", err)
	}

	node.clock.now.Add(testMinDelay)

	if _, err := executor.Execute(node.client, id); err != nil {
		t.Fatalf("execute: %v", err)
	}

	op, err := node.client.Operation(id)
	if err != nil {
		t.Fatalf("operation: %v", err)
	}
	if !op.Executed {
		t.Error("expected executed")
	}

	weights, err := node.client.Weights()
	if err != nil {
		t.Fatalf("weights: %v", err)
	}
	if len(weights.Weights) != 2 || weights.Weights[0] != 6 {
		t.Errorf("weights not applied: %v", weights.Weights)
	}
}

func TestScheduleRequiresGovernor(t *testing.T) {
	node := newTestNode(t)
	outsider := node.newFundedSigner(t, 0)

	_, err := outsider.Schedule(node.client, gov.TargetID(gov.TargetSetWeights), 0, nil, testMinDelay)

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestEventsFeed(t *testing.T) {
	node := newTestNode(t)
	signer := node.newFundedSigner(t, 1000)

	if _, err := signer.Deposit(node.client, 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := signer.Register(node.client); err != nil {
		t.Fatalf("register: %v", err)
	}

	evs, err := node.client.Events(1, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].Kind != "deposited" || evs[1].Kind != "registered" {
		t.Errorf("unexpected kinds: %s, %s", evs[0].Kind, evs[1].Kind)
	}

	evs, err = node.client.Events(2, 1)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 1 || evs[0].Seq != 2 {
		t.Errorf("expected only seq 2, got %+v", evs)
	}
}

func TestClientProbeFailure(t *testing.T) {
	if _, err := NewClient("127.0.0.1:1"); err == nil {
		t.Fatal("expected probe failure against a closed port")
	}
}
