// Package flagx lets several components share os.Args: each one picks out
// only the flags it owns before handing them to a flag.FlagSet.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// ConfigFlags are the flags naming a JSON config file.
var ConfigFlags = []string{"-c", "-config"}

// flagName strips leading dashes and any "=value" suffix.
func flagName(arg string) string {
	name, _, _ := strings.Cut(strings.TrimLeft(arg, "-"), "=")
	return name
}

func isFlag(arg string) bool {
	return len(arg) > 1 && arg[0] == '-'
}

func nameSet(flags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(flags))
	for _, f := range flags {
		set[flagName(f)] = struct{}{}
	}
	return set
}

// FilterArgs keeps only the allowed flags of args together with their
// values. Both "-f value" and "-f=value" forms are recognized, and one or two
// leading dashes are equivalent, as in package flag. Scanning stops at "--".
//
// A separate value is taken only when the next argument does not itself
// look like a flag.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := nameSet(allowedFlags)
	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		if !isFlag(arg) {
			continue
		}
		if _, ok := allowed[flagName(arg)]; !ok {
			continue
		}

		filtered = append(filtered, arg)
		if strings.Contains(arg, "=") {
			continue
		}
		if i+1 < len(args) && !isFlag(args[i+1]) {
			filtered = append(filtered, args[i+1])
			i++
		}
	}

	return filtered
}

// Positional returns the arguments that are neither flags nor values of the
// given value-taking flags. Everything after "--" is positional.
func Positional(args []string, valueFlags []string) []string {
	takesValue := nameSet(valueFlags)
	var rest []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return append(rest, args[i+1:]...)
		}
		if !isFlag(arg) {
			rest = append(rest, arg)
			continue
		}
		if strings.Contains(arg, "=") {
			continue
		}
		if _, ok := takesValue[flagName(arg)]; ok && i+1 < len(args) && !isFlag(args[i+1]) {
			i++
		}
	}

	return rest
}

// ConfigPath returns the config file named by -c or -config in args, or ""
// when neither is present. The last occurrence wins.
func ConfigPath(args []string) string {
	var path string

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(discard{})
	fs.StringVar(&path, "config", "", "path to config file")
	fs.StringVar(&path, "c", "", "path to config file (short)")
	_ = fs.Parse(FilterArgs(args, ConfigFlags))

	return path
}

// JsonConfigFlags is ConfigPath applied to the process arguments.
func JsonConfigFlags() string {
	return ConfigPath(os.Args[1:])
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
