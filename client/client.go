// Package client is the HTTP SDK for a VeriStake node. A Client reads
// platform state and submits the open operations; a Signer wraps a
// keypair and drives the envelope-authenticated ones.
package client

import (
	"fmt"
	"strconv"

	"VeriStake/internal/api"
	"VeriStake/internal/types"
)

// Client connects to a VeriStake node via HTTP.
type Client struct {
	nodeAddr string // nodeAddr is the HTTP address (e.g. "127.0.0.1:8080")
}

// NewClient creates a client and probes the node's /status endpoint to
// confirm it is reachable.
func NewClient(nodeAddr string) (*Client, error) {
	c := &Client{nodeAddr: nodeAddr}

	if _, err := c.Status(); err != nil {
		return nil, fmt.Errorf("probe node:\n%w", err)
	}

	return c, nil
}

// url builds a full endpoint URL.
func (c *Client) url(path string) string {
	return "http://" + c.nodeAddr + path
}

// Status returns the node's platform summary.
func (c *Client) Status() (api.StatusInfo, error) {
	var status api.StatusInfo
	err := httpGet(c.url("/status"), &status)

	return status, err
}

// StakeOf returns the balance and registration flag of an attestor.
// Unknown principals report a zero balance.
func (c *Client) StakeOf(id types.Principal) (api.StakeInfo, error) {
	var info api.StakeInfo
	err := httpGet(c.url("/stake/"+id.String()), &info)

	return info, err
}

// AttestationCount returns the number of attestations for a subject.
func (c *Client) AttestationCount(subject types.Principal) (uint64, error) {
	var resp api.CountResponse
	if err := httpGet(c.url("/attestations/"+subject.String()+"/count"), &resp); err != nil {
		return 0, err
	}

	return resp.Count, nil
}

// AttestationAt returns one attestation by its index in the subject's
// sequence.
func (c *Client) AttestationAt(subject types.Principal, index uint64) (api.AttestationInfo, error) {
	var info api.AttestationInfo
	url := c.url("/attestations/" + subject.String() + "/" + strconv.FormatUint(index, 10))
	err := httpGet(url, &info)

	return info, err
}

// LatestScore returns the most recent attestation summary for a
// subject. A subject with no attestations reports the zero sentinel.
func (c *Client) LatestScore(subject types.Principal) (api.LatestScoreResponse, error) {
	var resp api.LatestScoreResponse
	err := httpGet(c.url("/attestations/"+subject.String()+"/latest"), &resp)

	return resp, err
}

// Score asks the node to compute a trust score for a feature vector
// under the current weights.
func (c *Client) Score(features []uint64) (uint64, error) {
	var resp api.ScoreResponse
	err := httpPostJSON(c.url("/score"), api.ScoreRequest{Features: features}, &resp)
	if err != nil {
		return 0, err
	}

	return resp.Score, nil
}

// Weights returns the active weight vector, nil if none is set.
func (c *Client) Weights() (api.WeightsResponse, error) {
	var resp api.WeightsResponse
	err := httpGet(c.url("/score/weights"), &resp)

	return resp, err
}

// Verify submits a proof to an approved verifier and returns its
// verdict.
func (c *Client) Verify(verifier types.Principal, proof, publicInputs []byte) (bool, error) {
	var resp api.VerifyResponse
	err := httpPostJSON(c.url("/verify"), api.VerifyRequest{
		Verifier:     verifier.String(),
		Proof:        proof,
		PublicInputs: publicInputs,
	}, &resp)
	if err != nil {
		return false, err
	}

	return resp.Accepted, nil
}

// VerifierInfo returns the registry entry for a verifier id.
func (c *Client) VerifierInfo(id types.Principal) (api.VerifierInfo, error) {
	var info api.VerifierInfo
	err := httpGet(c.url("/verifiers/"+id.String()), &info)

	return info, err
}

// Operation returns a scheduled governance operation by id.
func (c *Client) Operation(id types.Hash) (api.OperationInfo, error) {
	var info api.OperationInfo
	err := httpGet(c.url("/gov/operations/"+id.String()), &info)

	return info, err
}

// Events reads journal events with sequence >= from, up to limit.
// limit 0 asks for the node's default page.
func (c *Client) Events(from uint64, limit int) ([]api.EventRecord, error) {
	url := c.url("/events?from=" + strconv.FormatUint(from, 10))
	if limit > 0 {
		url += "&limit=" + strconv.Itoa(limit)
	}

	var evs []api.EventRecord
	err := httpGet(url, &evs)

	return evs, err
}
