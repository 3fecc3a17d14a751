package client

import (
	"encoding/json"
	"fmt"

	"VeriStake/internal/api"
	"VeriStake/internal/identity"
	"VeriStake/internal/types"
)

// Signer wraps a keypair and submits envelope-authenticated operations.
type Signer struct {
	key *identity.KeyPair
}

// NewSigner creates a signer with a fresh random keypair.
func NewSigner() (*Signer, error) {
	key, err := identity.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return &Signer{key: key}, nil
}

// SignerFromKey wraps an existing keypair.
func SignerFromKey(key *identity.KeyPair) *Signer {
	return &Signer{key: key}
}

// Principal returns the signer's identity.
func (s *Signer) Principal() types.Principal {
	return s.key.Principal()
}

// post seals a body under the kind and submits it.
func (s *Signer) post(c *Client, path, kind string, body, result any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s body:\n%w", kind, err)
	}

	return httpPostJSON(c.url(path), s.key.Seal(kind, raw), result)
}

// Deposit moves tokens into stake custody.
func (s *Signer) Deposit(c *Client, amount uint64) (api.StakeInfo, error) {
	var info api.StakeInfo
	err := s.post(c, "/stake/deposit", api.KindDeposit, api.DepositRequest{Amount: amount}, &info)

	return info, err
}

// Register admits the signer as an attestor. The stake ledger enforces
// the minimum stake.
func (s *Signer) Register(c *Client) (api.StakeInfo, error) {
	var info api.StakeInfo
	err := s.post(c, "/stake/register", api.KindRegister, struct{}{}, &info)

	return info, err
}

// Deregister removes the signer from the attestor roster. Stake stays
// in custody until withdrawn.
func (s *Signer) Deregister(c *Client) (api.StakeInfo, error) {
	var info api.StakeInfo
	err := s.post(c, "/stake/deregister", api.KindDeregister, struct{}{}, &info)

	return info, err
}

// Withdraw moves tokens back out of custody. Registered attestors must
// deregister first.
func (s *Signer) Withdraw(c *Client, amount uint64) (api.StakeInfo, error) {
	var info api.StakeInfo
	err := s.post(c, "/stake/withdraw", api.KindWithdraw, api.WithdrawRequest{Amount: amount}, &info)

	return info, err
}

// Attest appends an attestation about a subject and returns its index
// in the subject's sequence.
func (s *Signer) Attest(c *Client, subject types.Principal, featuresHash types.Hash, score uint64, metadata []byte) (uint64, error) {
	var resp api.PostAttestationResponse
	err := s.post(c, "/attestations", api.KindPost, api.PostAttestationRequest{
		Subject:      subject.String(),
		FeaturesHash: featuresHash.String(),
		Score:        score,
		Metadata:     metadata,
	}, &resp)
	if err != nil {
		return 0, err
	}

	return resp.Index, nil
}

// Schedule queues a governance operation behind the timelock. Only the
// governor's signature is accepted.
func (s *Signer) Schedule(c *Client, target types.Principal, value uint64, payload []byte, delay uint64) (types.Hash, error) {
	var resp api.ScheduleResponse
	err := s.post(c, "/gov/schedule", api.KindSchedule, api.ScheduleRequest{
		Target:  target.String(),
		Value:   value,
		Payload: payload,
		Delay:   delay,
	}, &resp)
	if err != nil {
		return types.Hash{}, err
	}

	return types.ParseHash(resp.ID)
}

// Execute runs a due operation. Any signer may call this.
func (s *Signer) Execute(c *Client, id types.Hash) ([]byte, error) {
	var resp api.ExecuteResponse
	err := s.post(c, "/gov/execute", api.KindExecute, api.ExecuteRequest{ID: id.String()}, &resp)
	if err != nil {
		return nil, err
	}

	return resp.Output, nil
}
