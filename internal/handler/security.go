package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/xenking/secondhand-market/internal/domain/auth"
)

// TokenVerifier validates HS256 bearer tokens issued by the account service.
// The subject claim holds the numeric user id and the role claim holds
// "Admin" or "Customer".
type TokenVerifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewTokenVerifier returns a verifier for tokens signed with secret. An empty
// issuer accepts any issuer.
func NewTokenVerifier(secret []byte, issuer string, leeway time.Duration) *TokenVerifier {
	return &TokenVerifier{secret: secret, issuer: issuer, leeway: leeway}
}

type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verify parses raw and returns the principal it names.
func (v *TokenVerifier) Verify(raw string) (auth.Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var c tokenClaims
	if _, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...); err != nil {
		return auth.Principal{}, errors.Wrap(auth.ErrUnauthenticated, err.Error())
	}

	userID, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return auth.Principal{}, errors.Wrap(auth.ErrUnauthenticated, "subject is not a user id")
	}
	p := auth.Principal{UserID: userID, Role: auth.RoleCustomer}
	switch {
	case strings.EqualFold(c.Role, string(auth.RoleAdmin)):
		p.Role = auth.RoleAdmin
	case c.Role == "", strings.EqualFold(c.Role, string(auth.RoleCustomer)):
	default:
		return auth.Principal{}, errors.Wrapf(auth.ErrUnauthenticated, "unknown role %q", c.Role)
	}
	return p, nil
}

// Authenticate resolves the bearer token, if any, into a principal stored in
// the request context. A malformed or invalid token is rejected with 401;
// requests without a token pass through anonymously.
func (v *TokenVerifier) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			writeStatus(w, http.StatusUnauthorized, "malformed authorization header")
			return
		}
		p, err := v.Verify(strings.TrimSpace(token))
		if err != nil {
			writeStatus(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

// requireUser rejects anonymous requests.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.FromContext(r.Context()); !ok {
			writeStatus(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAdmin rejects anonymous and non-admin requests.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.FromContext(r.Context())
		switch {
		case !ok:
			writeStatus(w, http.StatusUnauthorized, "authentication required")
		case !p.IsAdmin():
			writeStatus(w, http.StatusForbidden, "admin role required")
		default:
			next.ServeHTTP(w, r)
		}
	})
}
