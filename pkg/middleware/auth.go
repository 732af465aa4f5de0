package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/pixelmint/pixelmint/pkg/auth"
	"github.com/pixelmint/pixelmint/pkg/contextkeys"
	"github.com/pixelmint/pixelmint/pkg/httputil"
	"github.com/pixelmint/pixelmint/pkg/observability"
	"github.com/pixelmint/pixelmint/pkg/users"
)

// SessionValidator resolves a session token to a session
type SessionValidator interface {
	Validate(ctx context.Context, token string) (*auth.Session, error)
}

// BearerVerifier resolves an OIDC bearer token to an identity
type BearerVerifier interface {
	VerifyBearer(ctx context.Context, rawToken string) (*auth.Identity, error)
}

// UserResolver maps an OIDC identity email to a user record
type UserResolver interface {
	GetByEmail(ctx context.Context, email string) (*users.User, error)
}

// AuthMiddleware authenticates API requests. Tokens with the pm_ prefix go
// through the session store; anything else is treated as an OIDC bearer token
// when a verifier is configured.
type AuthMiddleware struct {
	sessions SessionValidator
	oidc     BearerVerifier
	users    UserResolver
	logger   *observability.Logger
}

// NewAuthMiddleware creates an auth middleware. oidc may be nil when OIDC
// login is disabled.
func NewAuthMiddleware(sessions SessionValidator, oidc BearerVerifier, userStore UserResolver, logger *observability.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		sessions: sessions,
		oidc:     oidc,
		users:    userStore,
		logger:   logger,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			httputil.WriteUnauthorized(w, "Missing authorization token")
			return
		}

		userID, err := m.resolve(r.Context(), token)
		if err != nil {
			m.logger.WithError(err).Debug("Authentication failed")
			httputil.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		ctx := contextkeys.WithUserID(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) resolve(ctx context.Context, token string) (string, error) {
	if strings.HasPrefix(token, auth.TokenPrefix) {
		session, err := m.sessions.Validate(ctx, token)
		if err != nil {
			return "", err
		}
		return session.UserID, nil
	}

	if m.oidc == nil {
		return "", auth.ErrSessionNotFound
	}
	identity, err := m.oidc.VerifyBearer(ctx, token)
	if err != nil {
		return "", err
	}
	user, err := m.users.GetByEmail(ctx, identity.Email)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return strings.TrimSpace(header)
}
