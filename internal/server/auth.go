package server

import (
	"crypto/subtle"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ssd-technologies/nebulon/internal/agent"
	"github.com/ssd-technologies/nebulon/internal/registry"
)

// maxBodySize caps request bodies. The largest legitimate body is an
// issuance carrying a hex-encoded 512-byte identifier.
const maxBodySize = 1 << 20

// readBody reads the full request body, bounded by maxBodySize.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	return io.ReadAll(r.Body)
}

// signedCaller reads the body, verifies the request signature over it and
// returns the caller's registry address with the body. A nonce is accepted
// once per key. On failure it writes
// the error response and returns false.
func (s *Server) signedCaller(w http.ResponseWriter, r *http.Request) (registry.Address, []byte, bool) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return "", nil, false
	}
	key, err := agent.VerifyRequest(r, body)
	if err != nil {
		authFailures.WithLabelValues("signature").Inc()
		s.log.Debug("signature rejected", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusUnauthorized, err.Error())
		return "", nil, false
	}
	caller, err := registry.ParseAddress(key)
	if err != nil {
		authFailures.WithLabelValues("key").Inc()
		writeError(w, http.StatusUnauthorized, "invalid agent key")
		return "", nil, false
	}
	if !s.replay.Observe(key, r.Header.Get(agent.HeaderNonce)) {
		authFailures.WithLabelValues("replay").Inc()
		s.log.Debug("replayed request rejected", zap.String("path", r.URL.Path), zap.String("caller", caller.Short()))
		writeError(w, http.StatusUnauthorized, "request already processed")
		return "", nil, false
	}
	return caller, body, true
}

// adminAuth wraps a handler requiring the X-Admin-Secret header to match the
// configured operator secret.
func (s *Server) adminAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AdminSecret == "" {
			writeError(w, http.StatusForbidden, "operator endpoints are disabled")
			return
		}
		secret := r.Header.Get("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(secret), []byte(s.opts.AdminSecret)) != 1 {
			authFailures.WithLabelValues("admin_secret").Inc()
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}
