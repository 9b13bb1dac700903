package agent

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func TestSignAndVerifyRequest(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	body := []byte(`{"handle":"@test","name":"hello"}`)

	req, err := http.NewRequest(http.MethodPost, "http://localhost/api/identities", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}

	SignRequest(req, priv, body)

	// Verify headers are set
	if req.Header.Get(HeaderKey) != KeyFromPublicKey(pub) {
		t.Errorf("X-Agent-Key = %q, want %q", req.Header.Get(HeaderKey), KeyFromPublicKey(pub))
	}
	if req.Header.Get(HeaderTimestamp) == "" {
		t.Error("X-Agent-Timestamp not set")
	}
	if req.Header.Get(HeaderSignature) == "" {
		t.Error("X-Agent-Signature not set")
	}

	// Verification should succeed
	key, err := VerifyRequest(req, body)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if key != KeyFromPublicKey(pub) {
		t.Errorf("verified key = %q, want %q", key, KeyFromPublicKey(pub))
	}
}

func TestVerifyRequestRejectsExpiredTimestamp(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	body := []byte(`{}`)

	req, err := http.NewRequest(http.MethodPost, "http://localhost/api/recommend", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}

	// Manually set an expired timestamp (10 minutes ago)
	ts := strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10)
	req.Header.Set(HeaderKey, KeyFromPublicKey(pub))
	req.Header.Set(HeaderTimestamp, ts)
	nonce := "00112233445566778899aabbccddeeff"
	req.Header.Set(HeaderNonce, nonce)

	msg := req.Method + req.URL.Path + ts + nonce + string(body)
	sig := ed25519.Sign(priv, []byte(msg))
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))

	if _, err := VerifyRequest(req, body); err == nil {
		t.Fatal("expected error for expired timestamp, got nil")
	}
}

func TestVerifyRequestRejectsBadSignature(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	// Sign with a DIFFERENT key
	_, wrongPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate wrong key: %v", err)
	}

	body := []byte(`{"data":"test"}`)

	req, err := http.NewRequest(http.MethodPost, "http://localhost/api/report", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}

	SignRequest(req, wrongPriv, body)
	// Claim to be pub while signing with wrongPriv.
	req.Header.Set(HeaderKey, KeyFromPublicKey(pub))

	if _, err := VerifyRequest(req, body); err == nil {
		t.Fatal("expected error for bad signature, got nil")
	}
}

func TestVerifyRequestRejectsTamperedBody(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, "http://localhost/api/withdraw/currency", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	SignRequest(req, priv, []byte(`{"amount":1}`))

	if _, err := VerifyRequest(req, []byte(`{"amount":1000}`)); err == nil {
		t.Fatal("expected error for tampered body, got nil")
	}
}

func TestVerifyRequestRejectsMissingHeaders(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "http://localhost/api/recommend", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if _, err := VerifyRequest(req, nil); err == nil {
		t.Fatal("expected error for unsigned request, got nil")
	}

	req.Header.Set(HeaderKey, "abcd")
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set(HeaderSignature, "00")
	if _, err := VerifyRequest(req, nil); err == nil {
		t.Fatal("expected error for short key, got nil")
	}
}

func TestShortID(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	id := ShortID(pub)

	if len(id) != 16 {
		t.Errorf("short ID length = %d, want 16", len(id))
	}

	// Must be valid hex
	if _, err := hex.DecodeString(id); err != nil {
		t.Errorf("short ID is not valid hex: %v", err)
	}
}

func TestSaveAndLoadKey(t *testing.T) {
	priv, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "agent.key")
	if err := SaveKey(path, priv); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}
	got, err := LoadKey(path)
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if !got.Equal(priv) {
		t.Error("loaded key does not match saved key")
	}

	if _, err := ParseSeed("abcd"); err == nil {
		t.Error("expected error for short seed, got nil")
	}
}

func TestSignRequestUsesFreshNonce(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	body := []byte(`{"target":"x"}`)

	first, _ := http.NewRequest(http.MethodPost, "http://localhost/api/recommend", nil)
	second, _ := http.NewRequest(http.MethodPost, "http://localhost/api/recommend", nil)
	SignRequest(first, priv, body)
	SignRequest(second, priv, body)

	if first.Header.Get(HeaderNonce) == second.Header.Get(HeaderNonce) {
		t.Fatal("two signed requests share a nonce")
	}
	if first.Header.Get(HeaderSignature) == second.Header.Get(HeaderSignature) {
		t.Fatal("two signed requests share a signature")
	}
}

func TestVerifyRequestRejectsBadNonce(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	body := []byte(`{}`)

	for _, nonce := range []string{"", "abcd", "zz112233445566778899aabbccddeeff"} {
		req, _ := http.NewRequest(http.MethodPost, "http://localhost/api/claim", nil)
		SignRequest(req, priv, body)
		req.Header.Set(HeaderNonce, nonce)
		if _, err := VerifyRequest(req, body); err == nil {
			t.Errorf("nonce %q: expected error, got nil", nonce)
		}
	}
}

func TestVerifyRequestRejectsSwappedNonce(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	body := []byte(`{}`)

	req, _ := http.NewRequest(http.MethodPost, "http://localhost/api/claim", nil)
	SignRequest(req, priv, body)
	req.Header.Set(HeaderNonce, "ffffffffffffffffffffffffffffffff")
	if _, err := VerifyRequest(req, body); err == nil {
		t.Fatal("expected error for re-nonced request, got nil")
	}
}
