package discovery

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mpataki/automenu/internal/models"
)

var (
	docFieldPattern    = regexp.MustCompile(`^:([^:]+):\s*(.*)$`)
	infoBlockPattern   = regexp.MustCompile(`(?s)ScriptInfo\s*(.*?)\s*ScriptInfoEnd`)
	infoFieldPattern   = regexp.MustCompile(`#\s*(\w+)(?:\s*-\s*(.+))?`)
	paramDefault       = regexp.MustCompile(`(?i)\s*\(default:\s*([^)]+)\)`)
	paramRequired      = regexp.MustCompile(`(?i)\s*\(required\)`)
	paramAlternatives  = regexp.MustCompile(`\s*\[([^\]]+)\]`)
	docstringQuotes    = []string{`"""`, `'''`}
	docstringPrefixSet = "rRuU"
)

// field keys accepted in either header format, normalized to snake case
const (
	fieldState                    = "state"
	fieldAuthor                   = "author"
	fieldVersion                  = "version"
	fieldSynopsis                 = "synopsis"
	fieldDescription              = "description"
	fieldRequiredGroups           = "required_ad_groups"
	fieldAllowedUsers             = "allowed_users"
	fieldDisableMinimizeOnRunning = "disable_minimize_on_running"
)

// ScriptInfo blocks use CamelCase keys.
var infoBlockKeys = map[string]string{
	"state":                    fieldState,
	"author":                   fieldAuthor,
	"version":                  fieldVersion,
	"synopsis":                 fieldSynopsis,
	"description":              fieldDescription,
	"requiredadgroups":         fieldRequiredGroups,
	"allowedusers":             fieldAllowedUsers,
	"disableminimizeonrunning": fieldDisableMinimizeOnRunning,
}

// extractDocstring returns the module docstring of a Python source file.
func extractDocstring(src string) (string, bool) {
	rest := src
	for rest != "" {
		line, tail, _ := strings.Cut(rest, "\n")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			rest = tail
			continue
		}
		break
	}

	rest = strings.TrimLeft(rest, " \t")
	if len(rest) > 0 && strings.ContainsRune(docstringPrefixSet, rune(rest[0])) {
		rest = rest[1:]
	}
	for _, q := range docstringQuotes {
		if !strings.HasPrefix(rest, q) {
			continue
		}
		body, _, found := strings.Cut(rest[len(q):], q)
		if !found {
			return "", false
		}
		return body, true
	}
	return "", false
}

// parseDocstring reads the description and ":field: value" lines of a
// docstring. Problems are returned as warnings, never as errors.
func parseDocstring(doc string) (models.ScriptMeta, []string) {
	var meta models.ScriptMeta
	var warnings []string

	lines := strings.Split(strings.TrimSpace(doc), "\n")
	fieldsStart := len(lines)
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), ":") {
			fieldsStart = i
			break
		}
	}
	meta.Description = strings.TrimSpace(strings.Join(lines[:fieldsStart], "\n"))

	for _, line := range lines[fieldsStart:] {
		m := docFieldPattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		key := strings.TrimSpace(m[1])
		value := strings.TrimSpace(m[2])

		if name, ok := strings.CutPrefix(key, "param "); ok {
			meta.Parameters = append(meta.Parameters, parseParameter(strings.TrimSpace(name), value))
			continue
		}
		if w := applyField(&meta, strings.ToLower(key), value); w != "" {
			warnings = append(warnings, w)
		}
	}

	return meta, warnings
}

// parseScriptInfoBlock reads the "# Key - value" lines between ScriptInfo
// and ScriptInfoEnd. found is false when the file has no block.
func parseScriptInfoBlock(src string) (meta models.ScriptMeta, warnings []string, found bool) {
	block := infoBlockPattern.FindStringSubmatch(src)
	if block == nil {
		return meta, nil, false
	}

	for _, m := range infoFieldPattern.FindAllStringSubmatch(block[1], -1) {
		key, ok := infoBlockKeys[strings.ToLower(m[1])]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("unknown field %q", m[1]))
			continue
		}
		if w := applyField(&meta, key, strings.TrimSpace(m[2])); w != "" {
			warnings = append(warnings, w)
		}
	}
	return meta, warnings, true
}

func applyField(meta *models.ScriptMeta, key, value string) string {
	switch key {
	case fieldState:
		state := models.ScriptState(strings.ToLower(value))
		switch state {
		case models.ScriptStateDev, models.ScriptStateTest, models.ScriptStateProd:
			meta.State = state
		default:
			return fmt.Sprintf("invalid value %q for field %q", value, key)
		}
	case fieldAuthor:
		meta.Author = value
	case fieldVersion:
		meta.Version = value
	case fieldSynopsis:
		meta.Synopsis = value
	case fieldDescription:
		meta.Description = value
	case fieldRequiredGroups:
		meta.RequiredGroups = splitList(value)
	case fieldAllowedUsers:
		meta.AllowedUsers = splitList(value)
	case fieldDisableMinimizeOnRunning:
		if value == "" {
			meta.DisableMinimizeOnRunning = true
			break
		}
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Sprintf("invalid value %q for field %q", value, key)
		}
		meta.DisableMinimizeOnRunning = b
	default:
		return fmt.Sprintf("unknown field %q", key)
	}
	return ""
}

// parseParameter handles "description (default: x) (required) [a, b]".
func parseParameter(name, value string) models.InputParameter {
	p := models.InputParameter{Name: name}

	if m := paramDefault.FindStringSubmatch(value); m != nil {
		p.Default = strings.TrimSpace(m[1])
	}
	p.Required = paramRequired.MatchString(value)
	if m := paramAlternatives.FindStringSubmatch(value); m != nil {
		for _, opt := range strings.Split(m[1], ",") {
			opt = strings.Trim(strings.TrimSpace(opt), `'"`)
			if opt != "" {
				p.Alternatives = append(p.Alternatives, opt)
			}
		}
	}

	desc := paramAlternatives.ReplaceAllString(value, "")
	desc = paramDefault.ReplaceAllString(desc, "")
	desc = paramRequired.ReplaceAllString(desc, "")
	p.Description = strings.TrimSpace(desc)
	return p
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ";") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
