package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCmdRequiresExactlyOneArg(t *testing.T) {
	cmd := newRootCmd()
	require.Error(t, cmd.Args(cmd, nil))
	require.Error(t, cmd.Args(cmd, []string{"c8y", "extra"}))
	require.NoError(t, cmd.Args(cmd, []string{"c8y"}))
}

func TestRootCmdDeclaresProfileAndConfigFlags(t *testing.T) {
	cmd := newRootCmd()
	require.NotNil(t, cmd.Flags().Lookup("profile"))
	require.NotNil(t, cmd.Flags().Lookup("config"))
}
