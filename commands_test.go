package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestClassifyCommand(t *testing.T) {
	out, err := runRoot(t, "classify", "https://youtu.be/dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "direct_link\tdQw4w9WgXcQ\n", out)

	out, err = runRoot(t, "classify", "https://www.youtube.com/playlist?list=PLFgquLnL59alCl_2TQvOiD5Vgm1hCaGSI")
	require.NoError(t, err)
	assert.Equal(t, "direct_link\tPLFgquLnL59alCl_2TQvOiD5Vgm1hCaGSI\n", out)

	out, err = runRoot(t, "classify", "never", "gonna", "give")
	require.NoError(t, err)
	assert.Equal(t, "search_query\t\n", out)
}

func TestClassifyCommand_RequiresInput(t *testing.T) {
	_, err := runRoot(t, "classify")
	assert.Error(t, err)
}

func TestSetLogLevel(t *testing.T) {
	for _, level := range []string{"debug", "WARN", "warning", "error", "info", "bogus"} {
		assert.NotPanics(t, func() { setLogLevel(level) }, level)
	}
	setLogLevel("info")
}
