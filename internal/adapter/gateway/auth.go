package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"pixelchat/internal/domain"
	"pixelchat/internal/infra/config"
)

// ClientInfo holds metadata about an authenticated gateway client.
type ClientInfo struct {
	Name string
}

// Authenticator validates incoming gateway connections.
type Authenticator interface {
	Authenticate(token string) (*ClientInfo, error)
}

type authEntry struct {
	token []byte
	info  *ClientInfo
}

// StaticTokenAuth checks bearer tokens against a fixed list.
type StaticTokenAuth struct {
	entries []authEntry
}

// NewStaticTokenAuth builds an authenticator from configured tokens. Empty
// tokens are skipped.
func NewStaticTokenAuth(tokens []config.TokenConfig) *StaticTokenAuth {
	a := &StaticTokenAuth{}
	for _, t := range tokens {
		if t.Token == "" {
			continue
		}
		a.entries = append(a.entries, authEntry{
			token: []byte(t.Token),
			info:  &ClientInfo{Name: t.Name},
		})
	}
	return a
}

// Authenticate returns client info if the token is valid. Every entry is
// compared in constant time.
func (s *StaticTokenAuth) Authenticate(token string) (*ClientInfo, error) {
	if token == "" {
		return nil, domain.ErrGatewayAuth
	}
	tokenBytes := []byte(token)
	var match *ClientInfo
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(tokenBytes, e.token) == 1 && match == nil {
			match = e.info
		}
	}
	if match == nil {
		return nil, domain.ErrGatewayAuth
	}
	return match, nil
}

// requestToken reads the bearer token from the Authorization header, falling
// back to the token query parameter for browser clients.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return r.URL.Query().Get("token")
}
