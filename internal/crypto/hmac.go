// Package crypto provides request signing and secret-at-rest management for
// the marketplace API.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the credential pair used to sign marketplace requests. The
// pair is immutable for the process lifetime.
type HMACAuth struct {
	PublicKey string // API key id, sent in clear
	SecretKey string // private signing secret, never logged
}

// Headers returns the authentication headers for a marketplace request.
// The signature is HMAC-SHA256(secret, method+pathWithQuery+body+timestamp)
// encoded as lowercase hex.
//
// Returned header keys:
//   - X-Api-Key
//   - X-Sign-Date
//   - X-Request-Sign
func (h *HMACAuth) Headers(method, pathWithQuery, body string) map[string]string {
	return h.HeadersAt(method, pathWithQuery, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (h *HMACAuth) HeadersAt(method, pathWithQuery, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	message := method + pathWithQuery + body + ts
	sig := hmacSHA256Hex([]byte(h.SecretKey), message)

	return map[string]string{
		"X-Api-Key":      h.PublicKey,
		"X-Sign-Date":    ts,
		"X-Request-Sign": sig,
	}
}

// hmacSHA256Hex computes HMAC-SHA256 of message using key and returns the
// result as a lowercase hex string.
func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.PublicKey), redact(h.SecretKey))
}
