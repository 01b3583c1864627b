package identity

import (
	"net/http"
	"strings"

	"go.uber.org/fx"
)

// Principal is the resolved caller identity.
type Principal struct {
	UserID string
	Role   string
}

// Resolver turns an incoming request into a Principal. Session/cookie
// plumbing lives upstream; the reward pipeline only needs a stable user id
// and a role.
type Resolver interface {
	Resolve(r *http.Request) (*Principal, error)
}

var Module = fx.Module("identity",
	fx.Provide(func() Resolver { return HeaderResolver{} }),
)

// HeaderResolver trusts the identity headers set by the edge proxy after
// authentication: X-User-ID for the subject, X-API-Key prefix for the role.
type HeaderResolver struct{}

func (HeaderResolver) Resolve(r *http.Request) (*Principal, error) {
	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		return nil, nil
	}
	return &Principal{
		UserID: userID,
		Role:   roleFromAPIKey(r.Header.Get("X-API-Key")),
	}, nil
}

func roleFromAPIKey(key string) string {
	switch {
	case strings.HasPrefix(key, "adm_"):
		return "admin"
	case strings.HasPrefix(key, "svc_"):
		return "service"
	default:
		return "member"
	}
}
