package auth

import (
	"crypto"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"go-notify/internal/model"
)

const (
	TokenDuration = 7 * 24 * time.Hour
	TokenIssuer   = "chat_server"
	TokenAudience = "chat_web"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims are the user fields the chat server signs into every token.
type Claims struct {
	model.User
	jwt.RegisteredClaims
}

// Verifier checks Ed25519-signed access tokens.
type Verifier struct {
	key    crypto.PublicKey
	parser *jwt.Parser
}

// NewVerifier loads a PKIX public key in PEM form.
func NewVerifier(pem string) (*Verifier, error) {
	key, err := jwt.ParseEdPublicKeyFromPEM([]byte(pem))
	if err != nil {
		return nil, fmt.Errorf("load public key: %w", err)
	}
	return &Verifier{
		key: key,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
			jwt.WithIssuer(TokenIssuer),
			jwt.WithAudience(TokenAudience),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// Verify returns the user a token was issued for.
func (v *Verifier) Verify(tokenString string) (model.User, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.key, nil
	})
	if err != nil {
		return model.User{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return model.User{}, ErrInvalidToken
	}
	return claims.User, nil
}

// Signer issues tokens the Verifier accepts. The service itself only
// verifies; tooling and tests sign.
type Signer struct {
	key crypto.PrivateKey
}

// NewSigner loads a PKCS#8 Ed25519 private key in PEM form.
func NewSigner(pem string) (*Signer, error) {
	key, err := jwt.ParseEdPrivateKeyFromPEM([]byte(pem))
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}
	return &Signer{key: key}, nil
}

func (s *Signer) Sign(u model.User) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, Claims{
		User: u,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Audience:  jwt.ClaimStrings{TokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenDuration)),
		},
	})
	return token.SignedString(s.key)
}
