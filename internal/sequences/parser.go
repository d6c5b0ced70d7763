// Package sequences loads sequence definitions from YAML and Lua files.
package sequences

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/mpataki/automenu/internal/log"
	"github.com/mpataki/automenu/internal/lua"
	"github.com/mpataki/automenu/internal/models"
)

func Parse(path string) (*models.Sequence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sequence file: %w", err)
	}

	var seq models.Sequence
	if err := yaml.Unmarshal(data, &seq); err != nil {
		return nil, fmt.Errorf("failed to parse sequence YAML: %w", err)
	}

	if seq.Name == "" {
		seq.Name = baseName(path)
	}
	seq.Source = path
	seq.Reindex()
	assignID(&seq)
	return &seq, nil
}

// assignID gives sequences without a declared id a session-unique one.
func assignID(seq *models.Sequence) {
	if seq.ID == "" {
		seq.ID = uuid.NewString()
	}
}

// Load parses a single definition, picking the format from the extension.
func Load(path string, logger *slog.Logger) (*models.Sequence, error) {
	if !lua.IsLuaSequence(path) {
		return Parse(path)
	}

	seq, logs, err := lua.Compile(path)
	logger = log.OrDiscard(logger)
	for _, msg := range logs {
		logger.Debug("sequence script log", log.SequenceKey, path, "message", msg)
	}
	if err != nil {
		return nil, err
	}
	assignID(seq)
	return seq, nil
}

// LoadAll reads every definition in dirs. Later dirs override earlier ones
// on name clashes. Missing dirs are skipped.
func LoadAll(dirs []string, logger *slog.Logger) (map[string]*models.Sequence, error) {
	seqs := make(map[string]*models.Sequence)
	logger = log.OrDiscard(logger)

	for _, dir := range dirs {
		if err := loadFromDir(dir, seqs, logger); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
	}

	return seqs, nil
}

func loadFromDir(dir string, seqs map[string]*models.Sequence, logger *slog.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !isDefinition(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		seq, err := Load(path, logger)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if prev, ok := seqs[seq.Name]; ok {
			logger.Warn("sequence overridden", log.SequenceKey, seq.Name, "previous", prev.Source, "source", path)
		}
		seqs[seq.Name] = seq
	}

	return nil
}

// Sorted returns the sequences ordered by name.
func Sorted(seqs map[string]*models.Sequence) []*models.Sequence {
	out := make([]*models.Sequence, 0, len(seqs))
	for _, s := range seqs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func isDefinition(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".lua":
		return true
	}
	return false
}

func baseName(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Resolver looks up the script a step refers to.
type Resolver interface {
	Resolve(name string) (*models.Script, error)
}

func Validate(seq *models.Sequence, scripts Resolver) error {
	if seq.Name == "" {
		return fmt.Errorf("sequence must have a name")
	}

	if len(seq.Steps) == 0 {
		return fmt.Errorf("sequence %q must define at least one step", seq.Name)
	}

	for i, st := range seq.Steps {
		if strings.TrimSpace(st.Script) == "" {
			return fmt.Errorf("step %d must have a script", i+1)
		}
		for _, a := range st.Arguments {
			if a.Name == "" || strings.HasPrefix(a.Name, "-") {
				return fmt.Errorf("step %d: invalid argument name %q", i+1, a.Name)
			}
		}
		if scripts == nil {
			continue
		}
		if _, err := scripts.Resolve(st.Script); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	return nil
}
