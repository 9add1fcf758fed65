// Command arkaledge runs the autonomous engineering engine: a planner
// decomposes a spec into tasks, then a scheduler drives engineer and
// reviewer agents against them until the board drains.
//
// Grounded on hortator-ai/Hortator's cmd/hortator/cmd package layout
// (root command + persistent flags + one file per subcommand) translated
// from its Kubernetes CLI surface to this engine's run/status surface.
package main

import (
	"fmt"
	"os"

	"github.com/arkaledge/orchestrator/cmd/arkaledge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
