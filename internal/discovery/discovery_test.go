package discovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/automenu/internal/models"
)

const pythonScript = `#!/usr/bin/env python3
# -*- coding: utf-8 -*-
"""
Rotate the service certificates.

Runs against every node in the pool.

:synopsis: Rotate certificates
:state: Prod
:author: ops
:version: 1.2
:required_ad_groups: Ops; Security
:disable_minimize_on_running:
:colour: blue
:param target: Node pool to rotate (default: staging) [staging, prod]
:param force: Skip confirmation (required)
"""

import automenu_api

print("rotating")
`

const powershellScript = `<#
ScriptInfo
# Synopsis - Reset user password
# State - Test
# Author - helpdesk
# AllowedUsers - anna;bob
# Colour - red
ScriptInfoEnd
#>
param([string]$User)
# Set-PSBreakpoint -Line 3
Write-Output "reset"
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestParseFile_PythonDocstring(t *testing.T) {
	dir := t.TempDir()
	s := ParseFile(writeFile(t, dir, "rotate.py", pythonScript))

	assert.Equal(t, "Rotate certificates", s.Meta.Synopsis)
	assert.Equal(t, "Rotate certificates", s.DisplayName())
	assert.Equal(t, models.ScriptStateProd, s.Meta.State)
	assert.Equal(t, "ops", s.Meta.Author)
	assert.Equal(t, "1.2", s.Meta.Version)
	assert.Equal(t, []string{"Ops", "Security"}, s.Meta.RequiredGroups)
	assert.True(t, s.Meta.DisableMinimizeOnRunning)
	assert.Equal(t, "Rotate the service certificates.\n\nRuns against every node in the pool.", s.Meta.Description)
	assert.False(t, s.Meta.UsesBreakpoint)

	require.Len(t, s.Meta.Parameters, 2)
	assert.Equal(t, models.InputParameter{
		Name:         "target",
		Description:  "Node pool to rotate",
		Default:      "staging",
		Alternatives: []string{"staging", "prod"},
	}, s.Meta.Parameters[0])
	assert.Equal(t, "force", s.Meta.Parameters[1].Name)
	assert.True(t, s.Meta.Parameters[1].Required)
	assert.Equal(t, "Skip confirmation", s.Meta.Parameters[1].Description)

	assert.Equal(t, []string{`unknown field "colour"`}, s.Warnings)
	assert.Equal(t, []string{"--target", "staging"}, s.DefaultArgs())
}

func TestParseFile_ScriptInfoBlock(t *testing.T) {
	dir := t.TempDir()
	s := ParseFile(writeFile(t, dir, "reset.ps1", powershellScript))

	assert.Equal(t, "Reset user password", s.Meta.Synopsis)
	assert.Equal(t, models.ScriptStateTest, s.Meta.State)
	assert.Equal(t, "helpdesk", s.Meta.Author)
	assert.Equal(t, []string{"anna", "bob"}, s.Meta.AllowedUsers)
	assert.False(t, s.Meta.UsesBreakpoint)
	assert.Equal(t, []string{`unknown field "Colour"`}, s.Warnings)
}

func TestParseFile_InvalidState(t *testing.T) {
	dir := t.TempDir()
	s := ParseFile(writeFile(t, dir, "x.py", "\"\"\"\n:state: Beta\n\"\"\"\n"))

	assert.Empty(t, s.Meta.State)
	assert.Equal(t, []string{`invalid value "Beta" for field "state"`}, s.Warnings)
}

func TestUsesBreakpoint(t *testing.T) {
	tests := []struct {
		name string
		ext  string
		src  string
		want bool
	}{
		{"bare call", ".py", "print(1)\nbreakpoint()\n", true},
		{"indented", ".py", "def f():\n    breakpoint()\n", true},
		{"commented", ".py", "# breakpoint()\n", false},
		{"trailing comment", ".py", "x = 1  # breakpoint()\n", false},
		{"pdb", ".py", "import pdb; pdb.set_trace()\n", true},
		{"powershell", ".ps1", "Set-PSBreakpoint -Script $PSCommandPath -Line 4\n", true},
		{"powershell commented", ".ps1", "# Wait-Debugger\n", false},
		{"none", ".sh", "echo hi\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, usesBreakpoint(tt.ext, tt.src))
		})
	}
}

func TestParseFile_BreakpointWarning(t *testing.T) {
	dir := t.TempDir()
	s := ParseFile(writeFile(t, dir, "debug.py", "print('before')\nbreakpoint()\nprint('after')\n"))

	assert.True(t, s.Meta.UsesBreakpoint)
	assert.Contains(t, s.Warnings, "script contains an active breakpoint")
}

func TestExtractDocstring(t *testing.T) {
	doc, ok := extractDocstring("\n# header\nr'''raw doc'''\nx = 1\n")
	require.True(t, ok)
	assert.Equal(t, "raw doc", doc)

	_, ok = extractDocstring("x = 1\n\"\"\"not a docstring\"\"\"\n")
	assert.False(t, ok)

	_, ok = extractDocstring("\"\"\"unterminated\n")
	assert.False(t, ok)
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.sh", "echo b\n")
	writeFile(t, dir, "a.py", pythonScript)
	writeFile(t, dir, "_helper.py", "")
	writeFile(t, dir, "notes.txt", "")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.py"), 0o755))

	scripts, err := Discover(dir)
	require.NoError(t, err)
	require.Len(t, scripts, 2)
	assert.Equal(t, "a.py", scripts[0].Name)
	assert.Equal(t, "b.sh", scripts[1].Name)

	none, err := Discover(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCatalog_Resolve(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "deploy.sh", "echo deploy\n")
	outside := writeFile(t, t.TempDir(), "other.sh", "echo other\n")
	c := NewCatalog([]*models.Script{models.NewScript(path)})

	for _, name := range []string{"deploy.sh", "deploy", path} {
		s, err := c.Resolve(name)
		require.NoError(t, err, name)
		assert.Equal(t, path, s.Path)
	}

	s, err := c.Resolve(outside)
	require.NoError(t, err)
	assert.Equal(t, "other.sh", s.Name)

	_, err = c.Resolve("missing.sh")
	assert.ErrorIs(t, err, ErrScriptNotFound)
}
