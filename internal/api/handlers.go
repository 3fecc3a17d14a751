package api

import (
	"encoding/binary"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/zeebo/blake3"

	"VeriStake/internal/events"
	"VeriStake/internal/scoring"
	"VeriStake/internal/storage"
	"VeriStake/internal/types"
)

// Request and response bodies. Principals and hashes travel as base58
// strings, byte fields as base64 per encoding/json.

type DepositRequest struct {
	Amount uint64 `json:"amount"`
}

type WithdrawRequest struct {
	Amount uint64 `json:"amount"`
}

type StakeInfo struct {
	ID         string `json:"id"`
	Balance    uint64 `json:"balance"`
	Registered bool   `json:"registered"`
}

type PostAttestationRequest struct {
	Subject      string `json:"subject"`
	FeaturesHash string `json:"features_hash"`
	Score        uint64 `json:"score"`
	Metadata     []byte `json:"metadata,omitempty"`
}

type PostAttestationResponse struct {
	Index uint64 `json:"index"`
}

type AttestationInfo struct {
	Subject      string `json:"subject"`
	Index        uint64 `json:"index"`
	Attestor     string `json:"attestor"`
	FeaturesHash string `json:"features_hash"`
	Score        uint64 `json:"score"`
	Timestamp    uint64 `json:"timestamp"`
	Metadata     []byte `json:"metadata,omitempty"`
}

type CountResponse struct {
	Subject string `json:"subject"`
	Count   uint64 `json:"count"`
}

type LatestScoreResponse struct {
	Subject   string `json:"subject"`
	Score     uint64 `json:"score"`
	Attestor  string `json:"attestor"`
	Timestamp uint64 `json:"timestamp"`
}

type ScoreRequest struct {
	Features []uint64 `json:"features"`
}

type ScoreResponse struct {
	Score uint64 `json:"score"`
}

type WeightsResponse struct {
	Weights []uint64 `json:"weights"`
	Scale   uint64   `json:"scale"`
}

type VerifyRequest struct {
	Verifier     string `json:"verifier"`
	Proof        []byte `json:"proof"`
	PublicInputs []byte `json:"public_inputs"`
}

type VerifyResponse struct {
	Accepted bool `json:"accepted"`
}

type VerifierInfo struct {
	ID        string `json:"id"`
	Enabled   bool   `json:"enabled"`
	AddedAt   uint64 `json:"added_at"`
	RemovedAt uint64 `json:"removed_at,omitempty"`
}

type ScheduleRequest struct {
	Target  string `json:"target"`
	Value   uint64 `json:"value"`
	Payload []byte `json:"payload,omitempty"`
	Delay   uint64 `json:"delay"`
}

type ScheduleResponse struct {
	ID string `json:"id"`
}

type ExecuteRequest struct {
	ID string `json:"id"`
}

type ExecuteResponse struct {
	Output []byte `json:"output,omitempty"`
}

type OperationInfo struct {
	ID           string `json:"id"`
	Target       string `json:"target"`
	Value        uint64 `json:"value"`
	Payload      []byte `json:"payload,omitempty"`
	ScheduledAt  uint64 `json:"scheduled_at"`
	ExecuteAfter uint64 `json:"execute_after"`
	Executed     bool   `json:"executed"`
}

type StatusInfo struct {
	Head     uint64 `json:"head"`
	Governor string `json:"governor"`
	MinStake uint64 `json:"min_stake"`
	MinDelay uint64 `json:"min_delay"`
	Custody  uint64 `json:"custody"`
}

type EventRecord struct {
	Seq       uint64 `json:"seq"`
	Kind      string `json:"kind"`
	Timestamp uint64 `json:"timestamp"`
	Actor     string `json:"actor"`
	Subject   string `json:"subject"`
	Amount    uint64 `json:"amount"`
	Aux       uint64 `json:"aux"`
	Hash      string `json:"hash"`
	UUID      string `json:"uuid"`
}

// toEventRecord converts a journal event to its API rendering.
func toEventRecord(e events.Event) EventRecord {
	return EventRecord{
		Seq:       e.Seq,
		Kind:      e.Kind.String(),
		Timestamp: e.Timestamp,
		Actor:     e.Actor.String(),
		Subject:   e.Subject.String(),
		Amount:    e.Amount,
		Aux:       e.Aux,
		Hash:      e.Hash.String(),
		UUID:      e.UUID.String(),
	}
}

// handleDeposit handles POST /stake/deposit requests.
func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	principal, body, err := openEnvelope(r, KindDeposit)
	if err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	var req DepositRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed deposit body")
		return
	}

	if err := s.stake.Deposit(principal, req.Amount); err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	s.writeStakeInfo(w, principal)
}

// handleRegister handles POST /stake/register requests. The envelope
// body carries no parameters.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	principal, _, err := openEnvelope(r, KindRegister)
	if err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	if err := s.stake.Register(principal); err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	s.writeStakeInfo(w, principal)
}

// handleDeregister handles POST /stake/deregister requests.
func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	principal, _, err := openEnvelope(r, KindDeregister)
	if err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	if err := s.stake.Deregister(principal); err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	s.writeStakeInfo(w, principal)
}

// handleWithdraw handles POST /stake/withdraw requests.
func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	principal, body, err := openEnvelope(r, KindWithdraw)
	if err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	var req WithdrawRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed withdraw body")
		return
	}

	if err := s.stake.Withdraw(principal, req.Amount); err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	s.writeStakeInfo(w, principal)
}

// handleStakeInfo handles GET /stake/{id} requests. Unknown principals
// report a zero balance rather than an error, matching the implicit
// account model of the ledger.
func (s *Server) handleStakeInfo(w http.ResponseWriter, r *http.Request) {
	id, err := pathPrincipal(r, "id")
	if err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	s.writeStakeInfo(w, id)
}

// writeStakeInfo responds with the current view of one attestor.
func (s *Server) writeStakeInfo(w http.ResponseWriter, id types.Principal) {
	balance, registered, err := s.stake.Info(id)
	if err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, StakeInfo{
		ID:         id.String(),
		Balance:    balance,
		Registered: registered,
	})
}

// handlePostAttestation handles POST /attestations requests. The
// attestor is the envelope signer.
func (s *Server) handlePostAttestation(w http.ResponseWriter, r *http.Request) {
	principal, body, err := openEnvelope(r, KindPost)
	if err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	var req PostAttestationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed attestation body")
		return
	}

	subject, err := types.ParsePrincipal(req.Subject)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	featuresHash, err := types.ParseHash(req.FeaturesHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	index, err := s.attest.Post(principal, subject, featuresHash, req.Score, req.Metadata)
	if err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, PostAttestationResponse{Index: index})
}

// handleAttestationCount handles GET /attestations/{subject}/count.
func (s *Server) handleAttestationCount(w http.ResponseWriter, r *http.Request) {
	subject, err := pathPrincipal(r, "subject")
	if err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	count, err := s.attest.Count(subject)
	if err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, CountResponse{
		Subject: subject.String(),
		Count:   count,
	})
}

// handleAttestationAt handles GET /attestations/{subject}/{index}.
func (s *Server) handleAttestationAt(w http.ResponseWriter, r *http.Request) {
	subject, err := pathPrincipal(r, "subject")
	if err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	index, err := strconv.ParseUint(r.PathValue("index"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an unsigned integer")
		return
	}

	rec, err := s.attest.At(subject, index)
	if err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, AttestationInfo{
		Subject:      subject.String(),
		Index:        index,
		Attestor:     rec.Attestor.String(),
		FeaturesHash: rec.FeaturesHash.String(),
		Score:        rec.Score,
		Timestamp:    rec.Timestamp,
		Metadata:     rec.Metadata,
	})
}

// handleLatestScore handles GET /attestations/{subject}/latest. A
// subject with no attestations reports the zero sentinel, not an error.
func (s *Server) handleLatestScore(w http.ResponseWriter, r *http.Request) {
	subject, err := pathPrincipal(r, "subject")
	if err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	score, attestor, timestamp, err := s.attest.LatestScore(subject)
	if err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, LatestScoreResponse{
		Subject:   subject.String(),
		Score:     score,
		Attestor:  attestor.String(),
		Timestamp: timestamp,
	})
}

// handleScore handles POST /score requests. The computation itself is
// pure; serving one is journaled so downstream consumers see every
// score the platform handed out.
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	score, err := s.scoring.Compute(req.Features)
	if err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	_, err = s.journal.Commit(new(storage.Batch), events.Event{
		Kind:      events.KindScoreComputed,
		Timestamp: s.now(),
		Amount:    score,
		Aux:       uint64(len(req.Features)),
		Hash:      featuresDigest(req.Features),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ScoreResponse{Score: score})
}

// featuresDigest summarizes a feature vector for the score-computed
// event, so identical queries carry identical hashes downstream.
func featuresDigest(features []uint64) types.Hash {
	buf := make([]byte, 0, len(features)*8)
	for _, f := range features {
		buf = binary.LittleEndian.AppendUint64(buf, f)
	}

	return types.Hash(blake3.Sum256(buf))
}

// handleWeights handles GET /score/weights requests.
func (s *Server) handleWeights(w http.ResponseWriter, r *http.Request) {
	weights, err := s.scoring.Weights()
	if err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, WeightsResponse{
		Weights: weights,
		Scale:   scoring.Scale,
	})
}

// handleVerify handles POST /verify requests.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	id, err := types.ParsePrincipal(req.Verifier)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	accepted, err := s.verifiers.Verify(id, req.Proof, req.PublicInputs)
	if err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, VerifyResponse{Accepted: accepted})
}

// handleVerifierInfo handles GET /verifiers/{id} requests.
func (s *Server) handleVerifierInfo(w http.ResponseWriter, r *http.Request) {
	id, err := pathPrincipal(r, "id")
	if err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	entry, ok, err := s.verifiers.Info(id)
	if err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "unknown verifier")
		return
	}

	writeJSON(w, http.StatusOK, VerifierInfo{
		ID:        id.String(),
		Enabled:   entry.Enabled,
		AddedAt:   entry.AddedAt,
		RemovedAt: entry.RemovedAt,
	})
}

// handleSchedule handles POST /gov/schedule requests.
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	principal, body, err := openEnvelope(r, KindSchedule)
	if err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	var req ScheduleRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed schedule body")
		return
	}

	target, err := types.ParsePrincipal(req.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.timelock.Schedule(principal, target, req.Value, req.Payload, req.Delay)
	if err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ScheduleResponse{ID: id.String()})
}

// handleExecute handles POST /gov/execute requests. Execution is open
// to any keyholder; the envelope only attributes the executor in the
// journal.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	principal, body, err := openEnvelope(r, KindExecute)
	if err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	var req ExecuteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed execute body")
		return
	}

	id, err := types.ParseHash(req.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	output, err := s.timelock.Execute(principal, id)
	if err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ExecuteResponse{Output: output})
}

// handleOperation handles GET /gov/operations/{id} requests.
func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	id, err := pathHash(r, "id")
	if err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}

	op, ok, err := s.timelock.Operation(id)
	if err != nil {
		writeError(w, statusFromErr(err), err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "unknown operation")
		return
	}

	writeJSON(w, http.StatusOK, OperationInfo{
		ID:           id.String(),
		Target:       op.Target.String(),
		Value:        op.Value,
		Payload:      op.Payload,
		ScheduledAt:  op.ScheduledAt,
		ExecuteAfter: op.ExecuteAfter,
		Executed:     op.Executed,
	})
}
