// Package agentreg catalogs the AI CLI binaries agentmux can launch into a
// pane, and implements the CLI resolution chain used when dispatching a
// task to a worker (spec component 4.6).
package agentreg

import (
	"fmt"
	"sort"
)

// CLIConfig describes one installable AI CLI that agentmux knows how to
// launch and how to detect readiness for.
type CLIConfig struct {
	ID              string   `json:"id"`
	DisplayName     string   `json:"display_name"`
	Command         string   `json:"command"`
	Args            []string `json:"args,omitempty"`
	RequiredEnv     []string `json:"required_env,omitempty"`
	ReadyPromptHint string   `json:"ready_prompt_hint,omitempty"`
	Capabilities    []string `json:"capabilities,omitempty"`
	Enabled         bool     `json:"enabled"`
}

// DefaultCLIs is the built-in catalog of CLIs agentmux ships support for.
// New entries are additive; nothing here is required at runtime beyond the
// global default "claude".
func DefaultCLIs() []*CLIConfig {
	return []*CLIConfig{
		{
			ID:           "claude",
			DisplayName:  "Claude Code",
			Command:      "claude",
			RequiredEnv:  []string{"ANTHROPIC_API_KEY"},
			Capabilities: []string{"code_generation", "code_review", "refactoring", "testing", "shell_execution"},
			Enabled:      true,
		},
		{
			ID:           "codex",
			DisplayName:  "Codex CLI",
			Command:      "codex",
			RequiredEnv:  []string{"OPENAI_API_KEY"},
			Capabilities: []string{"code_generation", "shell_execution"},
			Enabled:      true,
		},
		{
			ID:           "gemini",
			DisplayName:  "Gemini CLI",
			Command:      "gemini",
			RequiredEnv:  []string{"GEMINI_API_KEY"},
			Capabilities: []string{"code_generation", "code_review"},
			Enabled:      true,
		},
		{
			ID:           "aider",
			DisplayName:  "Aider",
			Command:      "aider",
			Capabilities: []string{"code_generation", "refactoring"},
			Enabled:      true,
		},
	}
}

// Catalog is a lookup table over the known CLIs, keyed by id.
type Catalog struct {
	byID map[string]*CLIConfig
}

// NewCatalog builds a Catalog from the given CLI configs, falling back to
// DefaultCLIs when none are supplied.
func NewCatalog(clis []*CLIConfig) *Catalog {
	if len(clis) == 0 {
		clis = DefaultCLIs()
	}
	c := &Catalog{byID: make(map[string]*CLIConfig, len(clis))}
	for _, cli := range clis {
		c.byID[cli.ID] = cli
	}
	return c
}

// Get returns the CLI config for id, or false if unknown.
func (c *Catalog) Get(id string) (*CLIConfig, bool) {
	cli, ok := c.byID[id]
	return cli, ok
}

// All returns every known CLI config, sorted by id.
func (c *Catalog) All() []*CLIConfig {
	out := make([]*CLIConfig, 0, len(c.byID))
	for _, cli := range c.byID {
		out = append(out, cli)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WorkerCLIMode selects how a worker slot's AI CLI is chosen.
type WorkerCLIMode string

const (
	// ModeUniform applies UniformWorkerCLI to every worker slot.
	ModeUniform WorkerCLIMode = "uniform"
	// ModePerWorker consults PerWorkerCLI[slot] before falling back.
	ModePerWorker WorkerCLIMode = "per_worker"
)

// ModelProfile names the active model profile, whose DefaultCLI is
// consulted after per-worker and uniform settings are exhausted.
type ModelProfile struct {
	Name       string
	DefaultCLI string
}

// ResolutionSettings bundles the inputs to the CLI resolution chain so
// dispatch never has to read stale fields off an agent record.
type ResolutionSettings struct {
	Mode           WorkerCLIMode
	UniformCLI     string
	PerWorkerCLI   map[int]string
	ActiveProfile  ModelProfile
	GlobalDefault  string
}

// DefaultGlobalCLI is used when nothing else in the chain resolves.
const DefaultGlobalCLI = "claude"

// ResolveWorkerCLI implements spec component 4.6's CLI resolution chain for
// a worker at the given slot:
//  1. a per-worker override for that slot, when mode is per-worker
//  2. the uniform worker CLI setting
//  3. the active model profile's default CLI
//  4. the global default
//
// Settings are re-read from config at call time by the caller; this
// function performs no caching so a stale ai_cli can never leak through it.
func ResolveWorkerCLI(settings ResolutionSettings, slot int) string {
	if settings.Mode == ModePerWorker {
		if cli, ok := settings.PerWorkerCLI[slot]; ok && cli != "" {
			return cli
		}
	}
	if settings.UniformCLI != "" {
		return settings.UniformCLI
	}
	if settings.ActiveProfile.DefaultCLI != "" {
		return settings.ActiveProfile.DefaultCLI
	}
	if settings.GlobalDefault != "" {
		return settings.GlobalDefault
	}
	return DefaultGlobalCLI
}

// LaunchCommand composes the argv used to start cli inside a freshly
// provisioned pane for the given working directory.
func LaunchCommand(cli *CLIConfig, workingDir string) []string {
	args := append([]string{cli.Command}, cli.Args...)
	_ = workingDir // the terminal adapter cd's the pane itself; kept for signature symmetry with dispatch call sites
	return args
}

// MissingEnv returns the subset of cli.RequiredEnv not present in env.
func MissingEnv(cli *CLIConfig, env map[string]string) []string {
	var missing []string
	for _, key := range cli.RequiredEnv {
		if _, ok := env[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

// Validate checks that a CLI id is known and enabled in the catalog.
func (c *Catalog) Validate(id string) error {
	cli, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("unknown ai_cli %q", id)
	}
	if !cli.Enabled {
		return fmt.Errorf("ai_cli %q is disabled", id)
	}
	return nil
}
