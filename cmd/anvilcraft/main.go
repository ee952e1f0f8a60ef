// anvilcraft runs a Minecraft 1.8 server on anvil region storage and
// inspects its region files.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is injected during build.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "anvilcraft",
	Short: "A Minecraft 1.8 server backed by anvil region files",
	Long: `anvilcraft serves protocol 47 clients from a world stored in anvil region files.

Settings come from built-in defaults, an optional YAML file (--config),
ANVILCRAFT_* environment variables and finally command-line flags.
Running anvilcraft without a subcommand starts the server.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
