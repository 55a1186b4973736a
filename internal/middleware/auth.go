package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mentormatrix/pkg/types"
)

// TokenCookie and TokenQueryParam are the non-header places a token may ride.
// Browsers cannot set headers on a websocket handshake, hence the query form.
const (
	TokenCookie     = "token"
	TokenQueryParam = "token"
)

// Claims is the JWT payload issued by the account service. Older tokens
// carry the user in sub instead of userId.
type Claims struct {
	UserID string `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier signs and verifies HS256 user tokens.
type TokenVerifier struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenVerifier creates a verifier for secret. ttl bounds tokens minted by
// Issue.
func NewTokenVerifier(secret string, ttl time.Duration) *TokenVerifier {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenVerifier{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue mints a token for userID.
func (v *TokenVerifier) Issue(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("user ID cannot be empty")
	}
	now := v.now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify returns the user id carried by token.
func (v *TokenVerifier) Verify(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: missing token", types.ErrUnauthorized)
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(v.now))
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrUnauthorized, err)
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return "", fmt.Errorf("%w: token has no user", types.ErrUnauthorized)
	}
	return userID, nil
}

// TokenFromRequest finds a token in the Authorization header, the token
// cookie, or the token query parameter, in that order.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(TokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get(TokenQueryParam)
}

// Authenticator puts the verified user id on the request context.
type Authenticator struct {
	verifier *TokenVerifier
	logger   *slog.Logger
}

// NewAuthenticator creates the auth middleware pair.
func NewAuthenticator(verifier *TokenVerifier, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{verifier: verifier, logger: logger.With("component", "auth")}
}

// Require rejects requests without a valid token with 401.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.verifier.Verify(TokenFromRequest(r))
		if err != nil {
			a.logger.Debug("rejected request", "path", r.URL.Path, "error", err)
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// Optional attaches the user when a valid token is present and passes the
// request through untouched otherwise.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := TokenFromRequest(r)
		if token != "" {
			if userID, err := a.verifier.Verify(token); err == nil {
				r = r.WithContext(WithUserID(r.Context(), userID))
			} else {
				a.logger.Debug("ignoring invalid token", "path", r.URL.Path, "error", err)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   "Unauthorized",
		"code":    types.CodeUnauthorized,
		"message": "authentication required",
	})
}

type contextKey string

const userIDKey contextKey = "user_id"

// WithUserID returns ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the authenticated user id, or "".
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}
