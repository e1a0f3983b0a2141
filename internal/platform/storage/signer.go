package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// Signer produces the RSA signature gcs.SignedURL asks for.
type Signer interface {
	// Email is used as the GoogleAccessID of signed links.
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// KeySigner signs with the private key of a service account credential.
type KeySigner struct {
	email string
	key   *rsa.PrivateKey
}

type serviceAccountCredential struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

// LoadSigner reads the credential inline or, when inline is blank, from path.
func LoadSigner(inline, path string) (*KeySigner, error) {
	if strings.TrimSpace(inline) != "" {
		return ParseServiceAccountSigner([]byte(inline))
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("storage: signer credentials are required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("storage: read signer credentials: %w", err)
	}
	return ParseServiceAccountSigner(data)
}

// ParseServiceAccountSigner builds a signer from a service account JSON document.
func ParseServiceAccountSigner(data []byte) (*KeySigner, error) {
	if len(data) == 0 {
		return nil, errors.New("storage: service account JSON is empty")
	}
	var cred serviceAccountCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("storage: decode service account json: %w", err)
	}
	email := strings.TrimSpace(cred.ClientEmail)
	if email == "" {
		return nil, errors.New("storage: client_email missing in service account JSON")
	}
	// accepts PKCS#1 and PKCS#8 blocks
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(strings.TrimSpace(cred.PrivateKey)))
	if err != nil {
		return nil, fmt.Errorf("storage: parse private key: %w", err)
	}
	return &KeySigner{email: email, key: key}, nil
}

func (s *KeySigner) Email() string {
	if s == nil {
		return ""
	}
	return s.email
}

// SignBytes returns an RS256 signature of payload.
func (s *KeySigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	switch {
	case s == nil || s.key == nil:
		return nil, errors.New("storage: signer not initialised")
	case ctx.Err() != nil:
		return nil, ctx.Err()
	}
	sum := sha256.Sum256(payload)
	signature, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, sum[:])
	if err != nil {
		return nil, fmt.Errorf("storage: sign payload: %w", err)
	}
	return signature, nil
}
