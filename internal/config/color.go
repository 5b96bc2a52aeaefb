package config

import (
	"os"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// ColorsEnabled reports whether CLI output should use ANSI colors.
// Colors are off when NO_COLOR or STEROIDS_NO_COLOR is set (any value),
// or when stdout is not a terminal.
func ColorsEnabled() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if _, ok := os.LookupEnv("STEROIDS_NO_COLOR"); ok {
		return false
	}
	fd := os.Stdout.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return true
	}
	return term.IsTerminal(int(fd))
}
