package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/litkit/internal/config"
)

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := NewRootCmd()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "mint", "session"}, names)
}

func TestRootCmd_RequiresPrivateKey(t *testing.T) {
	t.Setenv("LITKIT_PRIVATE_KEY", "")
	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"session", "--network", "datil-dev"})

	require.ErrorIs(t, cmd.Execute(), config.ErrMissingPrivateKey)
}

func TestRootCmd_RejectsUnknownScope(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"mint", "--scope", "Everything"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown scope")
}
