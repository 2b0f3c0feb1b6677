// ABOUTME: Optional TOML engine profile (model, approval policy, sandbox mode).
// ABOUTME: Loaded from engine.profile_path and exported to the subprocess environment.

package engine

import (
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// Profile carries per-deployment engine settings. The file format follows
// the agent CLI's own config.toml so a profile can be shared between the
// gateway and direct CLI use.
type Profile struct {
	Model          string            `toml:"model"`
	ApprovalPolicy string            `toml:"approval_policy"`
	SandboxMode    string            `toml:"sandbox_mode"`
	Env            map[string]string `toml:"env"`
}

var validApprovalPolicies = map[string]bool{
	"": true, "untrusted": true, "on-failure": true, "on-request": true, "never": true,
}

var validSandboxModes = map[string]bool{
	"": true, "read-only": true, "workspace-write": true, "danger-full-access": true,
}

// LoadProfile reads and validates a profile file.
func LoadProfile(path string) (*Profile, error) {
	var p Profile
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return nil, fmt.Errorf("parsing engine profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validating engine profile %s: %w", path, err)
	}
	return &p, nil
}

// Validate checks enum fields against the values the agent CLI accepts.
func (p *Profile) Validate() error {
	if !validApprovalPolicies[p.ApprovalPolicy] {
		return fmt.Errorf("invalid approval_policy %q", p.ApprovalPolicy)
	}
	if !validSandboxModes[p.SandboxMode] {
		return fmt.Errorf("invalid sandbox_mode %q", p.SandboxMode)
	}
	return nil
}

// Environ renders the profile as environment variables for the subprocess.
// Extra env entries are sorted for deterministic process invocation.
func (p *Profile) Environ() []string {
	var env []string
	if p.Model != "" {
		env = append(env, "SEANCE_MODEL="+p.Model)
	}
	if p.ApprovalPolicy != "" {
		env = append(env, "SEANCE_APPROVAL_POLICY="+p.ApprovalPolicy)
	}
	if p.SandboxMode != "" {
		env = append(env, "SEANCE_SANDBOX_MODE="+p.SandboxMode)
	}

	keys := make([]string, 0, len(p.Env))
	for k := range p.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+p.Env[k])
	}
	return env
}
