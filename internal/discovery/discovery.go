// Package discovery finds runnable scripts and reads the metadata they
// declare about themselves.
package discovery

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mpataki/automenu/internal/models"
)

var ErrScriptNotFound = errors.New("script not found")

// Extensions lists the script types discovery picks up.
var Extensions = []string{".py", ".ps1", ".sh", ".bash"}

func supported(ext string) bool {
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Discover lists the scripts in dir, sorted by file name. Files starting
// with "_" or "." are skipped. A missing dir yields no scripts.
func Discover(dir string) ([]*models.Script, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read script dir: %w", err)
	}

	var scripts []*models.Script
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}
		if !supported(strings.ToLower(filepath.Ext(name))) {
			continue
		}
		scripts = append(scripts, ParseFile(filepath.Join(dir, name)))
	}

	sort.Slice(scripts, func(i, j int) bool {
		return scripts[i].Name < scripts[j].Name
	})
	return scripts, nil
}

// ParseFile builds the descriptor for one script. Read and parse problems
// end up in Warnings so the script can still be listed.
func ParseFile(path string) *models.Script {
	script := models.NewScript(path)

	data, err := os.ReadFile(path)
	if err != nil {
		script.Warnings = append(script.Warnings, fmt.Sprintf("cannot read script: %v", err))
		return script
	}
	src := string(data)

	switch script.Ext() {
	case ".py":
		if doc, ok := extractDocstring(src); ok {
			script.Meta, script.Warnings = parseDocstring(doc)
		} else if meta, warnings, ok := parseScriptInfoBlock(src); ok {
			script.Meta, script.Warnings = meta, warnings
		}
	default:
		if meta, warnings, ok := parseScriptInfoBlock(src); ok {
			script.Meta, script.Warnings = meta, warnings
		}
	}

	script.Meta.UsesBreakpoint = usesBreakpoint(script.Ext(), src)
	if script.Meta.UsesBreakpoint {
		script.Warnings = append(script.Warnings, "script contains an active breakpoint")
	}
	return script
}

// usesBreakpoint looks for debugger calls on lines that are not commented out.
func usesBreakpoint(ext, src string) bool {
	markers := []string{"breakpoint()", "pdb.set_trace()"}
	if ext == ".ps1" {
		markers = []string{"Set-PSBreakpoint", "Wait-Debugger"}
	}

	sc := bufio.NewScanner(strings.NewReader(src))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, m := range markers {
			if idx := strings.Index(line, m); idx >= 0 && !strings.Contains(line[:idx], "#") {
				return true
			}
		}
	}
	return false
}

// Catalog resolves step references to discovered scripts. It is safe for
// concurrent use; Replace swaps the list after a rescan.
type Catalog struct {
	mu      sync.RWMutex
	scripts []*models.Script
}

func NewCatalog(scripts []*models.Script) *Catalog {
	return &Catalog{scripts: scripts}
}

func (c *Catalog) Scripts() []*models.Script {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scripts
}

func (c *Catalog) Replace(scripts []*models.Script) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts = scripts
}

// Resolve accepts a path, a file name or a file name without extension.
func (c *Catalog) Resolve(name string) (*models.Script, error) {
	scripts := c.Scripts()
	for _, s := range scripts {
		if s.Path == name || s.Name == name {
			return s, nil
		}
	}
	for _, s := range scripts {
		if strings.TrimSuffix(s.Name, filepath.Ext(s.Name)) == name {
			return s, nil
		}
	}
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err == nil {
			return ParseFile(name), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, name)
}
