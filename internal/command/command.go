// Package command defines the closed set of commands the sandbox will run
// and how they are classified and cache-keyed.
package command

import "strings"

// Names of the whitelisted read-oriented commands.
const (
	NameGrep = "grep"
	NameFind = "find"
	NameCat  = "cat"
	NameHead = "head"
	NameTail = "tail"
	NameLs   = "ls"
	NameWc   = "wc"
)

// Command is a single requested invocation: a program name plus an argument
// vector. Arguments are always passed as a discrete vector to the child
// process, never through a shell.
type Command struct {
	Name string   `json:"name"`
	Args []string `json:"args"`
}

// New builds a Command from a name and arguments.
func New(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// String renders the command for logs. Not suitable for shell execution.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// PathArgs returns the arguments that name filesystem paths, according to the
// argument shape of each whitelisted command. Flags (leading '-') are never
// paths themselves, but a flag whose value is a path (grep -f) contributes
// that value. For grep the first operand is the pattern only when no -e/-f
// flag supplies one; otherwise every operand is a file.
func (c Command) PathArgs() []string {
	var paths []string
	patternPending := c.Name == NameGrep && !c.patternFromFlag()
	for i := 0; i < len(c.Args); i++ {
		arg := c.Args[i]
		if strings.HasPrefix(arg, "-") {
			if c.Name == NameGrep {
				// -f names a pattern file; it must pass the same
				// confinement as positional paths.
				if arg == "-f" || arg == "--file" {
					if i+1 < len(c.Args) {
						i++
						paths = append(paths, c.Args[i])
					}
					continue
				}
				if rest, ok := strings.CutPrefix(arg, "--file="); ok {
					paths = append(paths, rest)
					continue
				}
			}
			// Flags that consume a following value which is not a path.
			if consumesValue(c.Name, arg) {
				i++
			}
			continue
		}
		if patternPending {
			patternPending = false
			continue
		}
		paths = append(paths, arg)
	}
	return paths
}

// patternFromFlag reports whether a grep invocation supplies its pattern
// through -e or -f, in which case every operand names a file.
func (c Command) patternFromFlag() bool {
	for _, arg := range c.Args {
		switch {
		case arg == "-e" || arg == "-f" || arg == "--regexp" || arg == "--file":
			return true
		case strings.HasPrefix(arg, "--regexp=") || strings.HasPrefix(arg, "--file="):
			return true
		}
	}
	return false
}

// mutatingFindFlags are find primaries that write or execute.
var mutatingFindFlags = map[string]bool{
	"-delete":  true,
	"-exec":    true,
	"-execdir": true,
	"-ok":      true,
	"-okdir":   true,
	"-fprint":  true,
	"-fprintf": true,
	"-fls":     true,
}

// Mutating reports whether the command carries a flag that would write to the
// tree or execute another program. These never pass the sandbox policy.
func (c Command) Mutating() bool {
	if c.Name != NameFind {
		return false
	}
	for _, arg := range c.Args {
		if mutatingFindFlags[arg] {
			return true
		}
	}
	return false
}

// consumesValue reports whether a flag takes its value as the next argument.
// Only flags whose value is not a filesystem path are listed; path-valued
// flags must go through path validation like positional arguments.
func consumesValue(name, flag string) bool {
	switch name {
	case NameGrep:
		switch flag {
		case "-e", "--regexp", "-m", "-A", "-B", "-C", "--include", "--exclude":
			return true
		}
	case NameHead, NameTail:
		switch flag {
		case "-n", "-c":
			return true
		}
	case NameFind:
		switch flag {
		case "-name", "-iname", "-type", "-maxdepth", "-mindepth", "-size", "-mtime", "-path":
			return true
		}
	}
	return false
}
