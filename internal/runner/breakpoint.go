package runner

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// pdb prints the current frame as "> /path/script.py(42)<module>()".
	pdbModuleFrame = regexp.MustCompile(`\((\d+)\)<module>\(\)\s*$`)
	// PowerShell announces Set-PSBreakpoint hits this way.
	psDebugMode = regexp.MustCompile(`(?i)^\s*entering debug mode`)
)

// pdbPrompt is left on stdout without a newline while pdb waits, so it ends up
// glued to the front of the next line the script prints.
const pdbPrompt = "(Pdb) "

// DetectBreakpoint reports whether line announces a debugger halt. lineNo is
// the source line when the debugger reported one.
func DetectBreakpoint(line string) (lineNo string, ok bool) {
	if m := pdbModuleFrame.FindStringSubmatch(line); m != nil {
		return m[1], true
	}
	if psDebugMode.MatchString(line) {
		return "", true
	}
	return "", false
}

func breakpointNotice(lineNo string) string {
	if lineNo == "" {
		return "A breakpoint occurred in the script. Send 'continue' to resume the script."
	}
	return fmt.Sprintf("A breakpoint occurred in the script at row %s. Send 'continue' to resume the script.", lineNo)
}

func stripPrompt(line string) string {
	for strings.HasPrefix(line, pdbPrompt) {
		line = strings.TrimPrefix(line, pdbPrompt)
	}
	return line
}
