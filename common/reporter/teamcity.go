package reporter

import (
	"fmt"
	"io"
	"strings"
)

var escaper = strings.NewReplacer(
	"|", "||",
	"'", "|'",
	"\n", "|n",
	"\r", "|r",
	"[", "|[",
	"]", "|]",
)

// Escape quotes a value for a TeamCity service message.
func Escape(s string) string {
	return escaper.Replace(s)
}

func OpenBlock(w io.Writer, name string) {
	fmt.Fprintf(w, "##teamcity[blockOpened name='%s']\n", Escape(name))
}

func CloseBlock(w io.Writer, name string) {
	fmt.Fprintf(w, "##teamcity[blockClosed name='%s']\n", Escape(name))
}

func BuildProblem(w io.Writer, description string) {
	fmt.Fprintf(w, "##teamcity[buildProblem description='%s']\n", Escape(description))
}

// Block runs fn inside a named block when enabled, and reports a build
// problem when fn fails.
func Block(w io.Writer, enabled bool, name string, fn func() error) error {
	if !enabled {
		return fn()
	}
	OpenBlock(w, name)
	defer CloseBlock(w, name)
	err := fn()
	if err != nil {
		BuildProblem(w, fmt.Sprintf("%s: %v", name, err))
	}
	return err
}
