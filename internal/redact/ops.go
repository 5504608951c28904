package redact

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"unicode"
)

// Placeholders returned for operations that fully suppress the value.
const (
	removedPlaceholder   = "[removed]"
	culturalPlaceholder  = "[culturally protected]"
	encryptedValuePrefix = "enc."
	tokenPrefix          = "tok_"
)

// maskValue reveals at most the first and last windows of a value, masking
// every letter and digit in between. Separators survive so masked output
// keeps the original shape ("4532 **** **** 9012"). Overlapping windows
// reveal nothing.
func maskValue(s string, p Params) string {
	runes := []rune(s)
	first, last := p.ShowFirst, p.ShowLast
	if first+last >= len(runes) {
		first, last = 0, 0
	}
	out := make([]rune, len(runes))
	for i, r := range runes {
		switch {
		case i < first || i >= len(runes)-last:
			out[i] = r
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			out[i] = '*'
		default:
			out[i] = r
		}
	}
	return string(out)
}

// hashValue produces a salted one-way digest. A fresh salt per call means
// equal inputs hash differently; deterministic joins are tokenize's job.
func hashValue(value []byte) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate hash salt: %w", err)
	}
	digest := sha256.Sum256(append(salt, value...))
	return fmt.Sprintf("sha256$%s$%s", hex.EncodeToString(salt), hex.EncodeToString(digest[:])), nil
}

// tokenValue derives the deterministic token for a value under a scope key.
func tokenValue(key, value []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(value)
	return tokenPrefix + hex.EncodeToString(mac.Sum(nil))[:32]
}

// encodeEnvelope wraps ciphertext in the printable form substituted for the
// original value.
func encodeEnvelope(ciphertext []byte) string {
	return encryptedValuePrefix + base64.RawURLEncoding.EncodeToString(ciphertext)
}

// payloadBytes is the canonical byte form of a value for hashing, token
// derivation, and vault sealing. Strings are taken verbatim; everything
// else goes through JSON.
func payloadBytes(value any) ([]byte, error) {
	if s, ok := value.(string); ok {
		return []byte(s), nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return b, nil
}

// sealPayload produces the vault plaintext: a small envelope that records
// whether the original was a raw string or JSON so reversal restores the
// exact value.
func sealPayload(value any) ([]byte, error) {
	env := struct {
		Kind  string          `json:"kind"`
		Str   string          `json:"str,omitempty"`
		Value json.RawMessage `json:"value,omitempty"`
	}{}
	if s, ok := value.(string); ok {
		env.Kind = "string"
		env.Str = s
	} else {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode value: %w", err)
		}
		env.Kind = "json"
		env.Value = raw
	}
	return json.Marshal(env)
}

// openPayload is the inverse of sealPayload.
func openPayload(plain []byte) (any, error) {
	var env struct {
		Kind  string          `json:"kind"`
		Str   string          `json:"str"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(plain, &env); err != nil {
		return nil, fmt.Errorf("decode vault payload: %w", err)
	}
	if env.Kind == "string" {
		return env.Str, nil
	}
	dec := json.NewDecoder(bytes.NewReader(env.Value))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode vault payload: %w", err)
	}
	return v, nil
}
