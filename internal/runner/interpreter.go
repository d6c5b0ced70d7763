package runner

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/mpataki/automenu/internal/models"
)

// DefaultInterpreters maps a lower-case extension to the command prefix the
// script path is appended to.
func DefaultInterpreters() map[string][]string {
	if runtime.GOOS == "windows" {
		return map[string][]string{
			".py":   {"python"},
			".ps1":  {"powershell.exe", "-NoProfile", "-ExecutionPolicy", "Bypass", "-File"},
			".sh":   {"sh"},
			".bash": {"bash"},
		}
	}
	return map[string][]string{
		".py":   {"python3"},
		".ps1":  {"pwsh", "-NoProfile", "-File"},
		".sh":   {"sh"},
		".bash": {"bash"},
	}
}

// Interpreters layers configured overrides on top of the defaults. A non-empty
// python executable replaces the .py entry.
func Interpreters(overrides map[string][]string, python string) map[string][]string {
	table := DefaultInterpreters()
	for ext, argv := range overrides {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if len(argv) == 0 {
			delete(table, ext)
			continue
		}
		table[ext] = append([]string(nil), argv...)
	}
	if python != "" {
		table[".py"] = []string{python}
	}
	return table
}

func commandLine(table map[string][]string, script *models.Script, args []string) ([]string, error) {
	prefix, ok := table[script.Ext()]
	if !ok || len(prefix) == 0 {
		return nil, &SpawnError{
			Script: script.Path,
			Cause:  fmt.Errorf("%w: %q", ErrUnsupported, script.Ext()),
		}
	}
	argv := make([]string, 0, len(prefix)+1+len(args))
	argv = append(argv, prefix...)
	argv = append(argv, script.Path)
	argv = append(argv, args...)
	return argv, nil
}
