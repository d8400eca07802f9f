package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/dmarkhas/bookcart/internal/domain/auth"
)

// APIKeyHeader carries the optional caller identity.
const APIKeyHeader = "api_key"

// Security resolves API keys to user ids via HMAC-SHA256 hashed lookups.
// Identity is optional on most endpoints: a request without a key proceeds
// as a guest.
type Security struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurity creates a Security with the given API key repository and HMAC
// pepper.
func NewSecurity(apikeys auth.Repository, pepper []byte) *Security {
	return &Security{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// userID returns the authenticated user for the request, or nil for guests
// and for keys that do not resolve. An invalid key is indistinguishable from
// no key on optional-identity endpoints.
func (s *Security) userID(r *http.Request) *int64 {
	key := r.Header.Get(APIKeyHeader)
	if key == "" {
		return nil
	}
	id, ok := s.authenticate(r, key)
	if !ok {
		return nil
	}
	return &id
}

// requireUserID is userID for endpoints where identity is mandatory.
func (s *Security) requireUserID(r *http.Request) (int64, bool) {
	key := r.Header.Get(APIKeyHeader)
	if key == "" {
		return 0, false
	}
	return s.authenticate(r, key)
}

// authenticate computes the HMAC-SHA256 of the presented key, looks it up,
// and performs a constant-time comparison to prevent timing attacks.
func (s *Security) authenticate(r *http.Request, key string) (int64, bool) {
	mac := hmac.New(sha256.New, s.pepper)
	mac.Write([]byte(key))
	hash := mac.Sum(nil)

	info, err := s.apikeys.FindByHash(r.Context(), hex.EncodeToString(hash))
	if err != nil {
		return 0, false
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return 0, false
	}
	if subtle.ConstantTimeCompare(hash, stored) != 1 {
		return 0, false
	}
	return info.UserID, true
}
