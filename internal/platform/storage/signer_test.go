package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
)

func serviceAccountJSON(t *testing.T, key *rsa.PrivateKey, pkcs8 bool) []byte {
	t.Helper()
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	if pkcs8 {
		der, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			t.Fatalf("marshal pkcs8: %v", err)
		}
		block = &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	}
	data, err := json.Marshal(map[string]string{
		"client_email": "certs@example.iam.gserviceaccount.com",
		"private_key":  string(pem.EncodeToMemory(block)),
	})
	if err != nil {
		t.Fatalf("marshal credential: %v", err)
	}
	return data
}

func TestParseServiceAccountSignerSigns(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	for name, pkcs8 := range map[string]bool{"pkcs1": false, "pkcs8": true} {
		t.Run(name, func(t *testing.T) {
			signer, err := ParseServiceAccountSigner(serviceAccountJSON(t, key, pkcs8))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if signer.Email() != "certs@example.iam.gserviceaccount.com" {
				t.Fatalf("unexpected email %q", signer.Email())
			}
			payload := []byte("GOOG4-RSA-SHA256\n20240101T000000Z")
			sig, err := signer.SignBytes(context.Background(), payload)
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			sum := sha256.Sum256(payload)
			if err := rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, sum[:], sig); err != nil {
				t.Fatalf("signature does not verify: %v", err)
			}
		})
	}
}

func TestParseServiceAccountSignerRejectsBadCredentials(t *testing.T) {
	cases := map[string]string{
		"empty":    "",
		"not json": "{",
		"no email": `{"private_key":"x"}`,
		"bad key":  `{"client_email":"a@b","private_key":"not a pem"}`,
	}
	for name, raw := range cases {
		if _, err := ParseServiceAccountSigner([]byte(raw)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadSignerFallsBackToFile(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "sa.json")
	if err := os.WriteFile(path, serviceAccountJSON(t, key, true), 0o600); err != nil {
		t.Fatalf("write credential: %v", err)
	}

	signer, err := LoadSigner("  ", path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if signer.Email() == "" {
		t.Fatalf("expected email from file credential")
	}

	if _, err := LoadSigner("", ""); err == nil {
		t.Fatalf("expected error without credentials")
	}
	if _, err := LoadSigner("", filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestKeySignerHonoursCancelledContext(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := &KeySigner{email: "a@b", key: key}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := signer.SignBytes(ctx, []byte("x")); err == nil {
		t.Fatalf("expected context error")
	}
	var nilSigner *KeySigner
	if _, err := nilSigner.SignBytes(context.Background(), []byte("x")); err == nil {
		t.Fatalf("expected error from nil signer")
	}
}
