package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/joseph-ayodele/pdftext/internal/common"
)

const tokenIssuer = "pdftext"

// Authenticator issues and verifies HS256 bearer tokens. The token subject
// is the owner id used for every document query.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	users  map[string][]byte
	now    func() time.Time
}

// NewAuthenticator parses users given as "username:bcrypt-hash" pairs.
func NewAuthenticator(secret string, ttl time.Duration, users []string) (*Authenticator, error) {
	if secret == "" {
		return nil, common.NewAppError("CONFIG_ERROR", "JWT_SECRET is required", common.ErrInvalidInput)
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	a := &Authenticator{secret: []byte(secret), ttl: ttl, users: make(map[string][]byte), now: time.Now}
	for _, u := range users {
		name, hash, ok := strings.Cut(u, ":")
		if !ok || name == "" || hash == "" {
			return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("AUTH_USERS entry %q must be username:bcrypt-hash", name), common.ErrInvalidInput)
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("AUTH_USERS entry for %q is not a bcrypt hash", name), err)
		}
		a.users[name] = []byte(hash)
	}
	return a, nil
}

var errBadCredentials = common.NewAppError("UNAUTHORIZED", "invalid credentials", common.ErrUnauthorized)

// Login checks a username and password and returns a signed token.
func (a *Authenticator) Login(username, password string) (string, error) {
	hash, ok := a.users[username]
	if !ok {
		return "", errBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return "", errBadCredentials
	}
	return a.IssueToken(username)
}

// IssueToken signs a token for subject.
func (a *Authenticator) IssueToken(subject string) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify returns the subject of a valid token.
func (a *Authenticator) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", common.NewAppError("UNAUTHORIZED", "invalid token", errors.Join(common.ErrUnauthorized, err))
	}
	if claims.Subject == "" {
		return "", common.NewAppError("UNAUTHORIZED", "token has no subject", common.ErrUnauthorized)
	}
	return claims.Subject, nil
}
