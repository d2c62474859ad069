package rlm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint derives the 16-hex-character promptId used to identify a
// document across a run (spec §3: "promptId = fingerprint(prompt)"). This
// is not security sensitive — it is a cache/identity key — so it uses the
// fast non-cryptographic xxhash rather than a cryptographic hash.
func Fingerprint(content string) string {
	sum := xxhash.Sum64String(content)
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(sum >> (56 - 8*i))
	}
	return hex.EncodeToString(buf)
}

// subCallFingerprintInput is the exact shape hashed for a sub-RLM
// fingerprint, per spec §4.5.
type subCallFingerprintInput struct {
	PromptID string      `json:"promptId"`
	Query    string      `json:"query"`
	SubPrompt string     `json:"subPrompt"`
	Options  interface{} `json:"options"`
}

// SubCallFingerprint computes sha256(JSON({promptId, query, subPrompt,
// options})), truncated to a 16-hex-character prefix, per spec §4.5. The
// sub-call cache key is security-adjacent (collision means two distinct
// sub-calls share a cached answer) so it keeps the cryptographic hash the
// spec names explicitly, unlike the document promptId above.
func SubCallFingerprint(promptID, query, subPrompt string, options interface{}) (string, error) {
	payload, err := json.Marshal(subCallFingerprintInput{
		PromptID:  promptID,
		Query:     query,
		SubPrompt: subPrompt,
		Options:   options,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:16], nil
}
