// Package auth verifies the bearer credentials presented by chat clients.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/chatnet/internal/chat"
)

// Claims is the token payload issued by the account service.
type Claims struct {
	ID            string `json:"id"`
	Nickname      string `json:"nickname"`
	ContactNumber string `json:"contactNumber,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256-signed tokens and extracts the identity they carry.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Verify returns the identity carried by credential. It fails with
// chat.ErrCredentialMissing when credential is empty and with
// chat.ErrCredentialInvalid when it is malformed, expired or badly signed.
func (v *Verifier) Verify(credential string) (chat.Identity, error) {
	if strings.TrimSpace(credential) == "" {
		return chat.Identity{}, chat.ErrCredentialMissing
	}

	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(credential, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return chat.Identity{}, fmt.Errorf("%w: %w", chat.ErrCredentialInvalid, err)
	}
	if !token.Valid {
		return chat.Identity{}, fmt.Errorf("%w: %w", chat.ErrCredentialInvalid, jwt.ErrSignatureInvalid)
	}
	if claims.ID == "" || claims.Nickname == "" {
		return chat.Identity{}, fmt.Errorf("%w: %w", chat.ErrCredentialInvalid, errors.New("token lacks id or nickname"))
	}

	return chat.Identity{UserID: claims.ID, Nickname: claims.Nickname}, nil
}

// Issue signs a token for identity valid for ttl.
func (v *Verifier) Issue(identity chat.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		ID:       identity.UserID,
		Nickname: identity.Nickname,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// BearerToken extracts the credential of r from its Authorization header, or
// from the token query parameter since browsers cannot set headers on
// WebSocket upgrades.
func BearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
