package agentreg

import "testing"

func TestResolveWorkerCLIPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		settings ResolutionSettings
		slot     int
		want     string
	}{
		{
			name: "per-worker override wins in per-worker mode",
			settings: ResolutionSettings{
				Mode:          ModePerWorker,
				PerWorkerCLI:  map[int]string{1: "codex"},
				UniformCLI:    "claude",
				ActiveProfile: ModelProfile{DefaultCLI: "gemini"},
				GlobalDefault: "aider",
			},
			slot: 1,
			want: "codex",
		},
		{
			name: "per-worker mode without an override falls through to uniform",
			settings: ResolutionSettings{
				Mode:          ModePerWorker,
				PerWorkerCLI:  map[int]string{1: "codex"},
				UniformCLI:    "claude",
				ActiveProfile: ModelProfile{DefaultCLI: "gemini"},
			},
			slot: 2,
			want: "claude",
		},
		{
			name: "uniform mode ignores per-worker overrides",
			settings: ResolutionSettings{
				Mode:         ModeUniform,
				PerWorkerCLI: map[int]string{1: "codex"},
				UniformCLI:   "claude",
			},
			slot: 1,
			want: "claude",
		},
		{
			name:     "falls back to active profile default",
			settings: ResolutionSettings{ActiveProfile: ModelProfile{DefaultCLI: "gemini"}},
			slot:     1,
			want:     "gemini",
		},
		{
			name:     "falls back to global default setting",
			settings: ResolutionSettings{GlobalDefault: "aider"},
			slot:     1,
			want:     "aider",
		},
		{
			name:     "falls back to the hardcoded default",
			settings: ResolutionSettings{},
			slot:     1,
			want:     DefaultGlobalCLI,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveWorkerCLI(tt.settings, tt.slot)
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCatalogValidate(t *testing.T) {
	c := NewCatalog(nil)
	if err := c.Validate("claude"); err != nil {
		t.Fatalf("expected claude to validate, got %v", err)
	}
	if err := c.Validate("does-not-exist"); err == nil {
		t.Fatalf("expected unknown CLI to fail validation")
	}

	custom := NewCatalog([]*CLIConfig{{ID: "disabled-one", Command: "x", Enabled: false}})
	if err := custom.Validate("disabled-one"); err == nil {
		t.Fatalf("expected disabled CLI to fail validation")
	}
}

func TestMissingEnv(t *testing.T) {
	cli := &CLIConfig{RequiredEnv: []string{"A", "B"}}
	got := MissingEnv(cli, map[string]string{"A": "1"})
	if len(got) != 1 || got[0] != "B" {
		t.Fatalf("got %v, want [B]", got)
	}
}
