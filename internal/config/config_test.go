package config

import (
	"testing"
	"time"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SCHEDULING_WEBHOOK_SECRET", "sched-secret")
	t.Setenv("DB_NAME", "bookings_test")
	t.Setenv("ABANDON_AFTER", "2h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SchedulingWebhookSecret != "sched-secret" {
		t.Errorf("secret = %q", cfg.SchedulingWebhookSecret)
	}
	if cfg.AbandonAfter != 2*time.Hour {
		t.Errorf("AbandonAfter = %v, want 2h", cfg.AbandonAfter)
	}
	if cfg.SchedulingSignatureTolerance != 5*time.Minute {
		t.Errorf("tolerance default = %v", cfg.SchedulingSignatureTolerance)
	}
	if cfg.AppPort != "8080" {
		t.Errorf("AppPort default = %q", cfg.AppPort)
	}
	want := "host=localhost port=5432 user=postgres password=postgres dbname=bookings_test sslmode=disable"
	if cfg.DSN() != want {
		t.Errorf("DSN = %q", cfg.DSN())
	}
}

func TestValidateRequiresSchedulingSecret(t *testing.T) {
	cfg := Config{SchedulingSignatureTolerance: time.Minute, AbandonAfter: time.Hour}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing scheduling secret")
	}
	cfg.SchedulingWebhookSecret = "s"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
