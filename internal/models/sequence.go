package models

import "strings"

// Argument is a preset name/value pair for a sequence step.
type Argument struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

type Step struct {
	Index       int        `yaml:"-"`
	Script      string     `yaml:"script"`
	Arguments   []Argument `yaml:"arguments,omitempty"`
	StopOnError bool       `yaml:"stop_on_error,omitempty"`
}

// Args converts the step's presets to the command line handed to the script.
func (s *Step) Args() []string {
	return BuildArgs(s.Arguments)
}

type Sequence struct {
	ID          string  `yaml:"id,omitempty"`
	Name        string  `yaml:"name"`
	Description string  `yaml:"description,omitempty"`
	StopOnError bool    `yaml:"stop_on_error,omitempty"`
	Steps       []*Step `yaml:"steps"`
	Source      string  `yaml:"-"`
}

// Reindex assigns 1-based positions to the steps in list order.
func (s *Sequence) Reindex() {
	for i, step := range s.Steps {
		step.Index = i + 1
	}
}

// BuildArgs renders name/value pairs as "--name value", trimming values.
func BuildArgs(args []Argument) []string {
	out := make([]string, 0, len(args)*2)
	for _, a := range args {
		out = append(out, "--"+a.Name, strings.TrimSpace(a.Value))
	}
	return out
}
