// Package workspace prepares the directory scripts import the protocol
// helper from and builds the environment they run with.
package workspace

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mpataki/automenu/internal/protocol"
)

const HelperModule = "automenu_api.py"

type Workspace struct {
	LibDir string
}

// Prepare creates libDir and writes the helper module, rewriting it only when
// its content changed.
func Prepare(libDir string) (*Workspace, error) {
	w := &Workspace{LibDir: libDir}

	if err := os.MkdirAll(libDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lib directory: %w", err)
	}
	if err := w.writeHelper(); err != nil {
		return nil, err
	}

	return w, nil
}

func (w *Workspace) HelperPath() string {
	return filepath.Join(w.LibDir, HelperModule)
}

func (w *Workspace) writeHelper() error {
	path := w.HelperPath()
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, []byte(helperContent)) {
		return nil
	}
	if err := os.WriteFile(path, []byte(helperContent), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", HelperModule, err)
	}
	return nil
}

// Env returns base extended for a child run: the lib directory leads
// PYTHONPATH, output is unbuffered and the sentinels are exported.
func (w *Workspace) Env(base []string) []string {
	env := make([]string, 0, len(base)+4)
	var pythonPath string
	for _, kv := range base {
		key, value, _ := strings.Cut(kv, "=")
		switch key {
		case "PYTHONPATH":
			pythonPath = value
			continue
		case "PYTHONUNBUFFERED", "AUTOMENU_API_START", "AUTOMENU_API_END":
			continue
		}
		env = append(env, kv)
	}

	if pythonPath == "" {
		pythonPath = w.LibDir
	} else {
		pythonPath = w.LibDir + string(os.PathListSeparator) + pythonPath
	}

	return append(env,
		"PYTHONPATH="+pythonPath,
		"PYTHONUNBUFFERED=1",
		"AUTOMENU_API_START="+protocol.StartMarker,
		"AUTOMENU_API_END="+protocol.EndMarker,
	)
}

const helperContent = `"""Progress, status and setting requests for scripts run from automenu."""

import json
import os
import sys

START = os.environ.get("AUTOMENU_API_START", "` + protocol.StartMarker + `")
END = os.environ.get("AUTOMENU_API_END", "` + protocol.EndMarker + `")


def _send(msg_type, data):
    print(START + json.dumps({"type": msg_type, "data": data}) + END, flush=True)


def _receive():
    buf = ""
    started = False
    for line in sys.stdin:
        buf += line
        if not started:
            if START not in buf:
                buf = ""
                continue
            started = True
            buf = buf.split(START, 1)[1]
        if END in buf:
            return buf.split(END, 1)[0]
    return ""


def set_progress(percent):
    _send("progress", {"percent": percent})


def show_progress():
    _send("progress", {"set": "show"})


def hide_progress():
    _send("progress", {"set": "hide"})


def determinate_progress():
    _send("progress", {"set": "determinate"})


def indeterminate_progress():
    _send("progress", {"set": "indeterminate"})


def set_status(text, append=False):
    _send("status", {"set": text, "append": append})


def clear_status():
    _send("status", {"set": "clear"})


def get_status():
    _send("status", {"set": "get"})
    return _receive()


def get_setting(key):
    _send("setting", {"key": key})
    return _receive()
`
