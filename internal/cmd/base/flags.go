package base

import (
	"flag"
	"fmt"
	"sort"
	"strings"
)

// FlagSet wraps flag.FlagSet and renders the options section of command
// help. Flags registered under several names are listed once.
type FlagSet struct {
	*flag.FlagSet

	aliases map[string][]string
}

// NewFlagSet returns a new FlagSet wrapping f.
func NewFlagSet(f *flag.FlagSet) *FlagSet {
	return &FlagSet{
		FlagSet: f,
		aliases: make(map[string][]string),
	}
}

// Alias registers alias as another name for the already defined flag name.
func (f *FlagSet) Alias(alias, name string) {
	fl := f.Lookup(name)
	if fl == nil {
		panic(fmt.Sprintf("flag %q is not defined", name))
	}
	f.Var(fl.Value, alias, fl.Usage)
	f.aliases[name] = append(f.aliases[name], alias)
}

// Help returns the options section of a command's help text.
func (f *FlagSet) Help() string {
	hidden := make(map[string]bool)
	for _, aliases := range f.aliases {
		for _, a := range aliases {
			hidden[a] = true
		}
	}

	var names []string
	f.VisitAll(func(fl *flag.Flag) {
		if !hidden[fl.Name] {
			names = append(names, fl.Name)
		}
	})
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("\n\nOptions:\n")
	for _, name := range names {
		fl := f.Lookup(name)

		flags := []string{"-" + name}
		for _, a := range f.aliases[name] {
			flags = append(flags, "-"+a)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(flags, ", "))
		if fl.DefValue != "" && fl.DefValue != "false" {
			fmt.Fprintf(&b, "=%s", fl.DefValue)
		}
		fmt.Fprintf(&b, "\n      %s\n", fl.Usage)
	}
	return b.String()
}

// ParseInterspersed parses args allowing flags after positional arguments,
// as in "push ./docs -d 12". It returns the positional arguments in order.
func (f *FlagSet) ParseInterspersed(args []string) ([]string, error) {
	var positional []string
	for {
		if err := f.Parse(args); err != nil {
			return nil, err
		}
		rest := f.Args()
		if len(rest) == 0 {
			return positional, nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}
