package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("PER_PATIENT_MINUTES", "")
	t.Setenv("SERVICE_NAME", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("port = %q, want 8080", cfg.Port)
	}
	if cfg.PerPatientMinutes != 5 {
		t.Fatalf("per-patient minutes = %d, want 5", cfg.PerPatientMinutes)
	}
	if cfg.ServiceName != "queue-service" {
		t.Fatalf("service name = %q", cfg.ServiceName)
	}
}

func TestLoadReadsBaseWaitOverrides(t *testing.T) {
	t.Setenv("BASE_WAIT_CARDIOLOGY", "40")
	t.Setenv("BASE_WAIT_GENERAL_MEDICINE", "18")
	t.Setenv("BASE_WAIT_DERMATOLOGY", "not-a-number")
	t.Setenv("BASE_WAIT_NEUROLOGY", "0")

	cfg := Load()
	if got := cfg.BaseWaitOverrides["cardiology"]; got != 40 {
		t.Fatalf("cardiology override = %d, want 40", got)
	}
	if got := cfg.BaseWaitOverrides["general medicine"]; got != 18 {
		t.Fatalf("general medicine override = %d, want 18", got)
	}
	if _, ok := cfg.BaseWaitOverrides["dermatology"]; ok {
		t.Fatal("non-numeric override should be dropped")
	}
	if _, ok := cfg.BaseWaitOverrides["neurology"]; ok {
		t.Fatal("non-positive override should be dropped")
	}
}
