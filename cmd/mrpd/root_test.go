package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/AshAI-Sys/ashley-ai-sub015/internal/testing/guard"
)

func TestRootCommandTree(t *testing.T) {
	root := newRootCommand(nil)
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["serve"])
	require.True(t, names["plan"])
	require.True(t, names["jobs"])
	require.True(t, names["migrate"])

	jobsCmd, _, err := root.Find([]string{"jobs", "trigger"})
	require.NoError(t, err)
	require.Equal(t, "trigger", jobsCmd.Name())
	require.NotNil(t, jobsCmd.Flags().Lookup("retention"))
}

func TestPlanRequiresWorkspace(t *testing.T) {
	root := newRootCommand(nil)
	stderr := new(bytes.Buffer)
	root.SetErr(stderr)
	root.SetOut(new(bytes.Buffer))
	root.SetArgs([]string{"plan", "--json"})

	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "workspace")
}

func TestExecuteMapsExitCodes(t *testing.T) {
	require.NoError(t, exitCode(0))

	var exit exitError
	require.True(t, errors.As(exitCode(3), &exit))
	require.Equal(t, 3, exit.code)

	require.Equal(t, 0, Execute(context.Background(), nil, []string{"--help"}))
}
