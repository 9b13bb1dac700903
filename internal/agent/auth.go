// Package agent provides Ed25519 request signing and verification for
// registry callers. An agent is identified by its full public key, which is
// also its registry address.
package agent

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"
)

// TimestampWindow is the maximum age of a signed request before it is rejected.
const TimestampWindow = 5 * time.Minute

// Request headers carrying the caller's signature.
const (
	HeaderKey       = "X-Agent-Key"
	HeaderTimestamp = "X-Agent-Timestamp"
	HeaderSignature = "X-Agent-Signature"
	HeaderNonce     = "X-Agent-Nonce"
)

// Nonce length bounds, in hex characters.
const (
	minNonceLen = 16
	maxNonceLen = 64
)

// KeyFromPublicKey returns the 64-character lowercase hex encoding of pub.
func KeyFromPublicKey(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}

// ShortID returns the first 8 bytes of pub as 16 hex characters, for logs.
func ShortID(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub[:8])
}

// SignRequest adds X-Agent-Key, X-Agent-Timestamp, X-Agent-Nonce and
// X-Agent-Signature headers to an outgoing HTTP request. The signature
// covers:
//
//	method + path + timestamp + nonce + body
func SignRequest(req *http.Request, privKey ed25519.PrivateKey, body []byte) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	pub := privKey.Public().(ed25519.PublicKey)
	var n [16]byte
	rand.Read(n[:])
	nonce := hex.EncodeToString(n[:])

	req.Header.Set(HeaderKey, KeyFromPublicKey(pub))
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderNonce, nonce)

	sig := ed25519.Sign(privKey, []byte(signedMessage(req, ts, nonce, body)))
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))
}

func signedMessage(req *http.Request, ts, nonce string, body []byte) string {
	return req.Method + req.URL.Path + ts + nonce + string(body)
}

// VerifyRequest checks that:
//  1. X-Agent-Key holds a well-formed Ed25519 public key.
//  2. The timestamp is within TimestampWindow of the current time.
//  3. X-Agent-Nonce is 16 to 64 hex characters.
//  4. The Ed25519 signature is valid for the reconstructed message.
//
// It returns the verified key in hex, or a descriptive error on failure.
// It does not detect replays; pair it with a ReplayCache.
func VerifyRequest(req *http.Request, body []byte) (string, error) {
	keyHex := req.Header.Get(HeaderKey)
	tsStr := req.Header.Get(HeaderTimestamp)
	sigHex := req.Header.Get(HeaderSignature)

	if keyHex == "" {
		return "", fmt.Errorf("missing %s header", HeaderKey)
	}
	if tsStr == "" {
		return "", fmt.Errorf("missing %s header", HeaderTimestamp)
	}
	if sigHex == "" {
		return "", fmt.Errorf("missing %s header", HeaderSignature)
	}
	nonce := req.Header.Get(HeaderNonce)
	if len(nonce) < minNonceLen || len(nonce) > maxNonceLen {
		return "", fmt.Errorf("invalid %s: want %d to %d hex characters", HeaderNonce, minNonceLen, maxNonceLen)
	}
	if _, err := hex.DecodeString(nonce); err != nil {
		return "", fmt.Errorf("invalid %s: %w", HeaderNonce, err)
	}

	pub, err := hex.DecodeString(keyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("invalid %s: want %d hex-encoded bytes", HeaderKey, ed25519.PublicKeySize)
	}

	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid timestamp: %w", err)
	}

	diff := math.Abs(float64(time.Now().Unix() - ts))
	if diff > TimestampWindow.Seconds() {
		return "", fmt.Errorf("timestamp expired: %.0fs drift exceeds %v window", diff, TimestampWindow)
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", fmt.Errorf("invalid signature hex: %w", err)
	}

	if !ed25519.Verify(pub, []byte(signedMessage(req, tsStr, nonce, body)), sig) {
		return "", fmt.Errorf("ed25519 signature verification failed")
	}

	return hex.EncodeToString(pub), nil
}
