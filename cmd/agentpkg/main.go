package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/barysiuk/agentpkg/cmd/agentpkg/cmd"
	"github.com/barysiuk/agentpkg/internal/core"
	"github.com/barysiuk/agentpkg/internal/tui"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var ce *core.CloneError
		if errors.As(err, &ce) {
			fmt.Fprintln(os.Stderr)
			fmt.Fprint(os.Stderr, tui.RenderCloneError(ce))
		}
		return 1
	}
	return 0
}
