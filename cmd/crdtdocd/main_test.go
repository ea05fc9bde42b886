package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCommandWiresSubcommands(t *testing.T) {
	root := newRootCmd()

	require.Equal(t, "crdtdocd", root.Use)

	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	require.ElementsMatch(t, []string{"serve", "inspect"}, names)

	flag := root.PersistentFlags().Lookup("log-level")
	require.NotNil(t, flag)
	require.Equal(t, "info", flag.DefValue)
}

func TestInspectCommandRequiresAtLeastOneFile(t *testing.T) {
	cmd := newInspectCmd()
	require.Error(t, cmd.Args(cmd, nil))
	require.NoError(t, cmd.Args(cmd, []string{"one.crdt"}))
}

func TestServeCommandDefaultAddr(t *testing.T) {
	cmd := newServeCmd()
	flag := cmd.Flags().Lookup("addr")
	require.NotNil(t, flag)
	require.Equal(t, ":8080", flag.DefValue)
}
