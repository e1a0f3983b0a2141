package firestore

import (
	"context"
	"errors"
	"testing"

	"github.com/certified-builder/api/internal/platform/config"
)

func TestNewProviderFallsBackToEnvironment(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "env-project")
	t.Setenv("FIRESTORE_EMULATOR_HOST", "localhost:8081")

	p := NewProvider(config.FirestoreConfig{})
	if p.projectID != "env-project" || p.emulator != "localhost:8081" {
		t.Fatalf("expected environment fallback, got %q %q", p.projectID, p.emulator)
	}

	p = NewProvider(config.FirestoreConfig{ProjectID: " certs ", EmulatorHost: "firestore:8080"})
	if p.projectID != "certs" || p.emulator != "firestore:8080" {
		t.Fatalf("expected config values, got %q %q", p.projectID, p.emulator)
	}
}

func TestProviderRequiresProject(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("FIRESTORE_EMULATOR_HOST", "")

	p := NewProvider(config.FirestoreConfig{})
	if _, err := p.Client(context.Background()); err == nil {
		t.Fatalf("expected error without project id")
	}
}

func TestProviderClosed(t *testing.T) {
	p := NewProvider(config.FirestoreConfig{ProjectID: "certs"})
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := p.Client(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
	if err := p.Ping(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ping to fail after close, got %v", err)
	}
}
