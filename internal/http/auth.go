package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dranzer-17/TripSync/internal/models"
)

const userKey contextKey = "auth-user"

// authMiddleware verifies the bearer token and attaches the resolved
// user to the request context. The token subject is the user ID issued
// by the identity service; both services share the HS256 secret.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeUnauthorized(w)
			return
		}
		user, err := s.resolveToken(r.Context(), raw)
		if err != nil {
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

// authenticateWS pulls the token from the websocket subprotocol list
// ("token, <jwt>") with the Authorization header as fallback. Browsers
// cannot set headers on websocket dials, so the subprotocol carries it.
func (s *Server) authenticateWS(r *http.Request) (*models.User, error) {
	raw := ""
	for _, p := range websocketSubprotocols(r) {
		if p != "token" {
			raw = p
			break
		}
	}
	if raw == "" {
		raw = bearerToken(r)
	}
	if raw == "" {
		return nil, errors.New("missing token")
	}
	return s.resolveToken(r.Context(), raw)
}

func (s *Server) resolveToken(ctx context.Context, raw string) (*models.User, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !tok.Valid {
		return nil, errors.New("invalid token")
	}
	sub, err := tok.Claims.GetSubject()
	if err != nil {
		return nil, errors.New("token has no subject")
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return nil, errors.New("token subject is not a user id")
	}
	user, err := s.Users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.New("unknown user")
	}
	return user, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

func websocketSubprotocols(r *http.Request) []string {
	raw := r.Header.Get("Sec-WebSocket-Protocol")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func userFromContext(ctx context.Context) *models.User {
	if u, ok := ctx.Value(userKey).(*models.User); ok {
		return u
	}
	return nil
}

func writeUnauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "not authenticated"})
}
