package webserver

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mailpulse/mailpulse/internal/db"
)

// Admission failure taxonomy. Missing and invalid credentials surface to the
// requester the same way (401 "Authentication required"); a valid credential
// whose user does not own the requested account is a distinct error.
var (
	ErrNoToken          = errors.New("missing credential")
	ErrInvalidToken     = errors.New("invalid or expired credential")
	ErrUnknownPrincipal = errors.New("unknown principal")
)

// Principal is the resolved identity behind an admitted subscription request.
type Principal struct {
	UserID    string
	AccountID string
}

// IssueAccessToken creates a signed HS256 JWT for the given user id.
func IssueAccessToken(secret, userID string, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateAccessToken parses and validates a JWT, returning the subject (user id).
func ValidateAccessToken(secret, tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token")
	}
	return claims.Subject, nil
}

// GenerateRefreshToken returns a cryptographically random 32-byte hex string.
func GenerateRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Gate admits subscription requests. The credential travels in a ?token=
// query parameter because the EventSource handshake cannot set custom
// headers; Bearer headers are also accepted for plain API calls.
type Gate struct {
	secret string
	store  *db.DB
}

func NewGate(secret string, store *db.DB) *Gate {
	return &Gate{secret: secret, store: store}
}

// requestToken extracts the credential from the Authorization header or the
// token query parameter. Returns "" when neither is present.
func requestToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// Authenticate validates the request credential and returns the user id.
func (g *Gate) Authenticate(r *http.Request) (string, error) {
	tokenStr := requestToken(r)
	if tokenStr == "" {
		return "", ErrNoToken
	}
	userID, err := ValidateAccessToken(g.secret, tokenStr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return userID, nil
}

// Admit runs the full admission check for a subscription to accountID:
// credential present, credential valid, and the resolved user owns the
// account. Only on success may the caller open a stream.
func (g *Gate) Admit(r *http.Request, accountID string) (Principal, error) {
	userID, err := g.Authenticate(r)
	if err != nil {
		return Principal{}, err
	}

	account, err := g.store.GetMailAccount(accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return Principal{}, ErrUnknownPrincipal
	}
	if err != nil {
		return Principal{}, fmt.Errorf("resolve account: %w", err)
	}
	if account.UserID != userID {
		return Principal{}, ErrUnknownPrincipal
	}

	return Principal{UserID: userID, AccountID: accountID}, nil
}
