package api

import (
	"encoding/json"
	"io"
	"net/http"

	"VeriStake/internal/identity"
	"VeriStake/internal/types"
)

const (
	// maxBodySize caps request bodies. Attestation metadata is capped
	// well below this, so the limit only stops abuse.
	maxBodySize = 1 << 20 // 1 MB
)

// Envelope kinds accepted by the mutating routes. The kind binds a
// signature to exactly one operation, so a sealed deposit cannot be
// replayed against the withdraw route. Clients must seal with the
// matching constant.
const (
	KindDeposit    = "stake/deposit"
	KindRegister   = "stake/register"
	KindDeregister = "stake/deregister"
	KindWithdraw   = "stake/withdraw"
	KindPost       = "attestation/post"
	KindSchedule   = "gov/schedule"
	KindExecute    = "gov/execute"
)

// openEnvelope reads the request body as a signed envelope, verifies it
// for the expected kind and returns the signer's principal together
// with the inner operation body.
func openEnvelope(r *http.Request, kind string) (types.Principal, []byte, error) {
	raw, err := readBody(r)
	if err != nil {
		return types.NullPrincipal, nil, err
	}

	var env identity.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return types.NullPrincipal, nil, types.Validationf("malformed envelope: %v", err)
	}

	principal, err := env.Open(kind)
	if err != nil {
		return types.NullPrincipal, nil, err
	}

	return principal, env.Body, nil
}

// readBody reads a request body within the size cap.
func readBody(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return nil, types.Validationf("read body: %v", err)
	}
	if len(raw) == 0 {
		return nil, types.Validationf("empty body")
	}
	if len(raw) > maxBodySize {
		return nil, types.Validationf("body exceeds %d bytes", maxBodySize)
	}

	return raw, nil
}

// decodeJSON reads and unmarshals the body of an unsigned request.
func decodeJSON(r *http.Request, v any) error {
	raw, err := readBody(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return types.Validationf("malformed body: %v", err)
	}

	return nil
}

// pathPrincipal parses a base58 principal from a path segment.
func pathPrincipal(r *http.Request, name string) (types.Principal, error) {
	p, err := types.ParsePrincipal(r.PathValue(name))
	if err != nil {
		return types.NullPrincipal, types.Validationf("%s: %v", name, err)
	}

	return p, nil
}

// pathHash parses a base58 hash from a path segment.
func pathHash(r *http.Request, name string) (types.Hash, error) {
	h, err := types.ParseHash(r.PathValue(name))
	if err != nil {
		return types.Hash{}, types.Validationf("%s: %v", name, err)
	}

	return h, nil
}
