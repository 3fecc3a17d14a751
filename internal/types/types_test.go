package types

import (
	"errors"
	"testing"
)

func TestPrincipalRoundTrip(t *testing.T) {
	var p Principal
	for i := range p {
		p[i] = byte(i + 1)
	}

	s := p.String()
	if s == "" {
		t.Fatal("empty encoding")
	}

	back, err := ParsePrincipal(s)
	if err != nil {
		t.Fatalf("ParsePrincipal: %v", err)
	}
	if back != p {
		t.Errorf("round trip mismatch: got %s, want %s", back, p)
	}
}

func TestParsePrincipalRejectsBadInput(t *testing.T) {
	if _, err := ParsePrincipal("not base58 !!!"); err == nil {
		t.Error("expected error for invalid base58")
	}

	// valid base58 but wrong length
	if _, err := ParsePrincipal("3mJr7AoUXx2Wqd"); err == nil {
		t.Error("expected error for short input")
	}
}

func TestNullPrincipal(t *testing.T) {
	var p Principal
	if !p.IsNull() {
		t.Error("zero principal should be null")
	}

	p[0] = 1
	if p.IsNull() {
		t.Error("non-zero principal should not be null")
	}
}

func TestErrorKinds(t *testing.T) {
	cases := []struct {
		err  error
		kind error
	}{
		{Validationf("amount must be positive"), ErrValidation},
		{Authorizationf("caller %s is not the governor", NullPrincipal), ErrAuthorization},
		{Statef("already registered"), ErrState},
		{ExternalCallf("transfer refused"), ErrExternalCall},
	}

	kinds := []error{ErrValidation, ErrAuthorization, ErrState, ErrExternalCall}

	for _, c := range cases {
		if !errors.Is(c.err, c.kind) {
			t.Errorf("%v should match kind %v", c.err, c.kind)
		}
		for _, other := range kinds {
			if other != c.kind && errors.Is(c.err, other) {
				t.Errorf("%v should not match kind %v", c.err, other)
			}
		}
	}
}
