package lua

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/mpataki/automenu/internal/models"
)

// Runtime evaluates a Lua sequence definition in a sandbox and collects the
// steps it declares.
type Runtime struct {
	source string
	seq    *models.Sequence
	logs   []string
}

func NewRuntime(source string) *Runtime {
	name := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	return &Runtime{
		source: source,
		seq:    &models.Sequence{Name: name, Source: source},
	}
}

// Compile reads and evaluates a .lua sequence file.
func Compile(path string) (*models.Sequence, []string, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read script: %w", err)
	}
	return NewRuntime(path).Execute(string(script))
}

// Execute runs the script and returns the sequence it built plus anything
// passed to log().
func (r *Runtime) Execute(script string) (*models.Sequence, []string, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	defer L.Close()

	r.openSafeLibs(L)
	r.registerAPI(L)

	if err := L.DoString(script); err != nil {
		return nil, r.logs, fmt.Errorf("failed to evaluate %s: %w", r.source, err)
	}

	r.seq.Reindex()
	return r.seq, r.logs, nil
}

// openSafeLibs loads base, table, string and math without file access or
// randomness.
func (r *Runtime) openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)

	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil) // log() instead

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	if tbl, ok := L.GetGlobal("math").(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
}

func (r *Runtime) registerAPI(L *lua.LState) {
	L.SetGlobal("sequence", L.NewFunction(r.luaSequence))
	L.SetGlobal("step", L.NewFunction(r.luaStep))
	L.SetGlobal("context", L.NewFunction(r.luaContext))
	L.SetGlobal("log", L.NewFunction(r.luaLog))
}

// luaSequence implements sequence{name=, description=, stop_on_error=}.
func (r *Runtime) luaSequence(L *lua.LState) int {
	opts := L.CheckTable(1)

	if v, ok := opts.RawGetString("name").(lua.LString); ok && v != "" {
		r.seq.Name = string(v)
	}
	if v, ok := opts.RawGetString("description").(lua.LString); ok {
		r.seq.Description = string(v)
	}
	if v, ok := opts.RawGetString("id").(lua.LString); ok {
		r.seq.ID = string(v)
	}
	r.seq.StopOnError = lua.LVAsBool(opts.RawGetString("stop_on_error"))
	return 0
}

// luaStep implements step(script, args?, opts?). args is either a map of
// name = value, applied in name order, or a list of {name, value} pairs.
func (r *Runtime) luaStep(L *lua.LState) int {
	script := L.CheckString(1)
	args := L.OptTable(2, nil)
	opts := L.OptTable(3, nil)

	st := &models.Step{Script: script}
	if args != nil {
		parsed, err := tableToArguments(args)
		if err != nil {
			L.ArgError(2, err.Error())
			return 0
		}
		st.Arguments = parsed
	}
	if opts != nil {
		st.StopOnError = lua.LVAsBool(opts.RawGetString("stop_on_error"))
	}

	r.seq.Steps = append(r.seq.Steps, st)
	L.Push(lua.LNumber(len(r.seq.Steps)))
	return 1
}

func tableToArguments(tbl *lua.LTable) ([]models.Argument, error) {
	var out []models.Argument

	if tbl.Len() > 0 {
		var err error
		tbl.ForEach(func(k, v lua.LValue) {
			if err != nil {
				return
			}
			pair, ok := v.(*lua.LTable)
			if !ok || pair.Len() != 2 {
				err = fmt.Errorf("argument %s must be a {name, value} pair", k.String())
				return
			}
			out = append(out, models.Argument{
				Name:  pair.RawGetInt(1).String(),
				Value: pair.RawGetInt(2).String(),
			})
		})
		return out, err
	}

	tbl.ForEach(func(k, v lua.LValue) {
		out = append(out, models.Argument{Name: k.String(), Value: v.String()})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// luaContext returns details about the file being evaluated.
func (r *Runtime) luaContext(L *lua.LState) int {
	tbl := L.NewTable()
	tbl.RawSetString("file", lua.LString(r.source))
	tbl.RawSetString("name", lua.LString(r.seq.Name))
	tbl.RawSetString("steps", lua.LNumber(len(r.seq.Steps)))
	L.Push(tbl)
	return 1
}

func (r *Runtime) luaLog(L *lua.LState) int {
	r.logs = append(r.logs, L.CheckString(1))
	return 0
}

// IsLuaSequence reports whether path is a Lua sequence definition.
func IsLuaSequence(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".lua")
}
