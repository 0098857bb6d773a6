package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for a future algorithm change.
const (
	DomainContent = "membersync/content/v1"
	DomainApply   = "membersync/apply/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data) as lowercase hex.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash hashes the canonical form of a changed_fields set.
// A nil set (delete) hashes the same as an empty one.
func ContentHash(fields Object) (string, error) {
	if fields == nil {
		fields = Object{}
	}
	canonical, err := MarshalCanonical(fields)
	if err != nil {
		return "", fmt.Errorf("ContentHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainContent, canonical), nil
}

// IdempotencyKey identifies one delivery of one captured change to the
// opposite store. Redelivering the same record yields the same key; a
// later record with identical content does not, because changeID differs.
func IdempotencyKey(changeID, entityKey string, action Action, contentHash string) (string, error) {
	obj := Object{
		"change_id":    String(changeID),
		"entity_key":   String(entityKey),
		"action":       String(action),
		"content_hash": String(contentHash),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("IdempotencyKey: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainApply, canonical), nil
}

// MustContentHash is like ContentHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustContentHash(fields Object) string {
	h, err := ContentHash(fields)
	if err != nil {
		panic(err)
	}
	return h
}
