// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package mfa

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

const (
	backupCodeCount  = 10
	backupCodeLength = 10
)

// Backup codes are shown once in the form XXXXX-XXXXX; only their SHA-256
// digests are stored, as a JSON array in the authenticator row. Verifying a
// code removes its digest, each code works exactly once.

const backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func generateBackupCodes() ([]string, error) {
	codes := make([]string, 0, backupCodeCount)
	max := big.NewInt(int64(len(backupCodeAlphabet)))

	for i := 0; i < backupCodeCount; i++ {
		var b strings.Builder
		for j := 0; j < backupCodeLength; j++ {
			if j == backupCodeLength/2 {
				b.WriteByte('-')
			}
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return nil, fmt.Errorf("failed to generate backup code: %w", err)
			}
			b.WriteByte(backupCodeAlphabet[n.Int64()])
		}
		codes = append(codes, b.String())
	}

	return codes, nil
}

func hashBackupCodes(codes []string) (string, error) {
	hashes := make([]string, 0, len(codes))
	for _, code := range codes {
		hashes = append(hashes, hashBackupCode(code))
	}

	blob, err := json.Marshal(hashes)
	if err != nil {
		return "", fmt.Errorf("failed to encode backup codes: %w", err)
	}

	return string(blob), nil
}

func hashBackupCode(code string) string {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), "-", ""))
	digest := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(digest[:])
}

// consumeBackupCode matches code against the stored digests and returns the
// blob with the matched digest removed. The second return is false when no
// digest matched.
func consumeBackupCode(blob, code string) (string, bool, error) {
	var hashes []string
	if err := json.Unmarshal([]byte(blob), &hashes); err != nil {
		return "", false, fmt.Errorf("failed to decode backup codes: %w", err)
	}

	target := hashBackupCode(code)
	matched := -1
	for i, h := range hashes {
		if subtle.ConstantTimeCompare([]byte(h), []byte(target)) == 1 {
			matched = i
		}
	}
	if matched < 0 {
		return blob, false, nil
	}

	remaining := append(hashes[:matched], hashes[matched+1:]...)
	updated, err := json.Marshal(remaining)
	if err != nil {
		return "", false, fmt.Errorf("failed to encode backup codes: %w", err)
	}

	return string(updated), true, nil
}
