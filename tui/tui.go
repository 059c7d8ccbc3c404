// Package tui renders the command line output of the resilience tool.
package tui

import (
	"os"

	"github.com/mattn/go-isatty"
)

var (
	HasTTY = isatty.IsTerminal(os.Stdout.Fd())
)
