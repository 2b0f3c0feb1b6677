// ABOUTME: Tests for engine profile loading and environment rendering.

package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadProfile(t *testing.T) {
	path := writeProfile(t, `
model = "gpt-5-codex"
approval_policy = "on-request"
sandbox_mode = "workspace-write"

[env]
RUST_LOG = "info"
`)

	p, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-5-codex", p.Model)
	assert.Equal(t, "on-request", p.ApprovalPolicy)
	assert.Equal(t, "workspace-write", p.SandboxMode)
	assert.Equal(t, "info", p.Env["RUST_LOG"])
}

func TestLoadProfile_MissingFile(t *testing.T) {
	_, err := LoadProfile(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLoadProfile_InvalidEnums(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad approval policy", `approval_policy = "whenever"`},
		{"bad sandbox mode", `sandbox_mode = "yolo"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadProfile(writeProfile(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestProfile_Environ(t *testing.T) {
	p := &Profile{
		Model:          "gpt-5-codex",
		ApprovalPolicy: "never",
		SandboxMode:    "read-only",
		Env:            map[string]string{"B_VAR": "2", "A_VAR": "1"},
	}

	env := p.Environ()
	assert.Equal(t, []string{
		"SEANCE_MODEL=gpt-5-codex",
		"SEANCE_APPROVAL_POLICY=never",
		"SEANCE_SANDBOX_MODE=read-only",
		"A_VAR=1",
		"B_VAR=2",
	}, env)
}

func TestProfile_EnvironEmpty(t *testing.T) {
	p := &Profile{}
	assert.Empty(t, p.Environ())
}

func TestKind_Terminal(t *testing.T) {
	assert.True(t, KindTaskComplete.Terminal())
	assert.True(t, KindError.Terminal())
	assert.False(t, KindTaskStarted.Terminal())
	assert.False(t, KindAgentMessage.Terminal())
	assert.False(t, KindTokenCount.Terminal())
	assert.False(t, Kind("mystery").Terminal())
}
