// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package mfa

import (
	"strings"
	"testing"
	"time"
)

// RFC 4226 appendix D test secret.
const rfcSecret = "12345678901234567890"

var rfcSecretBase32 = base32NoPadding.EncodeToString([]byte(rfcSecret))

func TestHotpCodeRFCVectors(t *testing.T) {
	// RFC 4226 appendix D, truncated to 6 digits.
	expected := []string{
		"755224", "287082", "359152", "969429", "338314",
		"254676", "287922", "162583", "399871", "520489",
	}

	for counter, want := range expected {
		got := hotpCode([]byte(rfcSecret), int64(counter))
		if got != want {
			t.Errorf("counter %d: expected %s, got %s", counter, want, got)
		}
	}
}

func TestVerifyTotpCodeRFCVectors(t *testing.T) {
	// RFC 6238 appendix B timestamps; the 6-digit codes are the low six
	// digits of the published 8-digit SHA-1 values.
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1234567890, "005924"},
		{2000000000, "279037"},
	}

	for _, tc := range cases {
		ok, err := verifyTotpCode(rfcSecretBase32, tc.code, time.Unix(tc.ts, 0))
		if err != nil {
			t.Fatalf("t=%d: unexpected error: %v", tc.ts, err)
		}
		if !ok {
			t.Errorf("t=%d: expected code %s to verify", tc.ts, tc.code)
		}
	}
}

func TestVerifyTotpCodeSkewWindow(t *testing.T) {
	now := time.Unix(1111111109, 0)

	// The code of the previous step still verifies one step later.
	previous := hotpCode([]byte(rfcSecret), now.Unix()/totpPeriod-1)
	ok, err := verifyTotpCode(rfcSecretBase32, previous, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected the previous step's code to verify within the skew window")
	}

	// Two steps away is outside the window.
	stale := hotpCode([]byte(rfcSecret), now.Unix()/totpPeriod-2)
	ok, err = verifyTotpCode(rfcSecretBase32, stale, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected a code two steps old to be rejected")
	}
}

func TestVerifyTotpCodeRejectsMalformedInput(t *testing.T) {
	now := time.Unix(59, 0)

	for _, code := range []string{"", "12345", "1234567", "12345a", "abc def"} {
		ok, err := verifyTotpCode(rfcSecretBase32, code, now)
		if err != nil {
			t.Fatalf("code %q: unexpected error: %v", code, err)
		}
		if ok {
			t.Errorf("expected code %q to be rejected", code)
		}
	}
}

func TestGenerateTotpSecret(t *testing.T) {
	a, err := generateTotpSecret()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := generateTotpSecret()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a == b {
		t.Error("expected two generated secrets to differ")
	}
	if decoded, err := base32NoPadding.DecodeString(a); err != nil || len(decoded) != totpSecretBytes {
		t.Errorf("expected a %d-byte base32 secret, got %q (err %v)", totpSecretBytes, a, err)
	}
}

func TestProvisioningURI(t *testing.T) {
	uri := provisioningURI("Identity Service", "jane@example.com", "SECRET")

	if !strings.HasPrefix(uri, "otpauth://totp/") {
		t.Errorf("expected an otpauth URI, got %q", uri)
	}
	for _, fragment := range []string{"secret=SECRET", "digits=6", "period=30", "algorithm=SHA1", "issuer=Identity+Service"} {
		if !strings.Contains(uri, fragment) {
			t.Errorf("expected URI to contain %q, got %q", fragment, uri)
		}
	}
}
