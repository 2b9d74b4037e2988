package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCmdDeclaresFlags(t *testing.T) {
	cmd := newRootCmd()
	require.NotNil(t, cmd.Flags().Lookup("flows-dir"))
	require.NotNil(t, cmd.Flags().Lookup("flow"))
	require.NotNil(t, cmd.Flags().Lookup("stats"))
}

func TestRootCmdAcceptsAtMostTwoArgs(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.Args(cmd, nil))
	require.NoError(t, cmd.Args(cmd, []string{"topic", "payload"}))
	require.Error(t, cmd.Args(cmd, []string{"topic", "payload", "extra"}))
}

func TestBracketLineMatchesTopicAndPayload(t *testing.T) {
	m := bracketLine.FindStringSubmatch(`[tedge/measurements] {"temp":21}`)
	require.NotNil(t, m)
	require.Equal(t, "tedge/measurements", m[1])
	require.Equal(t, `{"temp":21}`, m[2])
}

func TestBracketLineRejectsMissingBrackets(t *testing.T) {
	require.Nil(t, bracketLine.FindStringSubmatch(`tedge/measurements {"temp":21}`))
}

func TestBracketLineAllowsEmptyPayload(t *testing.T) {
	m := bracketLine.FindStringSubmatch(`[tedge/errors]`)
	require.NotNil(t, m)
	require.Equal(t, "tedge/errors", m[1])
	require.Equal(t, "", m[2])
}

func TestProcessStdinStopsOnMalformedLine(t *testing.T) {
	var seen []string
	err := processLines([]string{"[a] 1", "not-bracketed", "[b] 2"}, func(topic, payload string) {
		seen = append(seen, topic+"="+payload)
	})
	require.Error(t, err)
	require.Equal(t, []string{"a=1"}, seen)
}
