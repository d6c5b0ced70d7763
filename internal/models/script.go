package models

import (
	"path/filepath"
	"strings"
)

type ScriptState string

const (
	ScriptStateDev  ScriptState = "dev"
	ScriptStateTest ScriptState = "test"
	ScriptStateProd ScriptState = "prod"
)

// InputParameter is one declared script argument, passed as --name value.
type InputParameter struct {
	Name         string
	Description  string
	Default      string
	Required     bool
	Alternatives []string
}

// ScriptMeta holds the fields a script may declare in its header block.
// Every field is optional; the parser reports unknown keys as warnings
// instead of storing them.
type ScriptMeta struct {
	Synopsis                 string
	Description              string
	Author                   string
	Version                  string
	State                    ScriptState
	RequiredGroups           []string
	AllowedUsers             []string
	DisableMinimizeOnRunning bool
	Parameters               []InputParameter
	UsesBreakpoint           bool
}

// Script is a runnable script descriptor as produced by discovery.
type Script struct {
	Path     string
	Name     string
	Meta     ScriptMeta
	Warnings []string
}

func NewScript(path string) *Script {
	return &Script{Path: path, Name: filepath.Base(path)}
}

func (s *Script) Ref() ScriptRef {
	return ScriptRef{Path: s.Path, Name: s.DisplayName()}
}

// DisplayName prefers the declared synopsis over the file name.
func (s *Script) DisplayName() string {
	if s.Meta.Synopsis != "" {
		return s.Meta.Synopsis
	}
	return s.Name
}

// Ext is the lower-cased file extension, including the dot.
func (s *Script) Ext() string {
	return strings.ToLower(filepath.Ext(s.Path))
}

// DefaultArgs builds an argument list from the declared parameter defaults.
func (s *Script) DefaultArgs() []string {
	var args []Argument
	for _, p := range s.Meta.Parameters {
		if p.Default != "" {
			args = append(args, Argument{Name: p.Name, Value: p.Default})
		}
	}
	return BuildArgs(args)
}
