package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithRedactsSecrets(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := FromZap(zap.New(core)).With("service", "test")

	log.Info("verified", "access_token", "abc.def.ghi", "user_id", "u1")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["access_token"] != "[REDACTED]" {
		t.Fatalf("access_token = %v, want redacted", fields["access_token"])
	}
	if fields["user_id"] != "u1" {
		t.Fatalf("user_id = %v, want u1", fields["user_id"])
	}
	if fields["service"] != "test" {
		t.Fatalf("service = %v, want test", fields["service"])
	}
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"dev", "prod"} {
		log, err := New(mode)
		if err != nil {
			t.Fatalf("New(%q) error = %v", mode, err)
		}
		log.Debug("hello")
	}
}
