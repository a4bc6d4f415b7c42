// Command toolgateway aggregates MCP providers behind a single MCP endpoint.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "toolgateway",
		Short: "MCP gateway that aggregates tools, resources and prompts from many providers",
		Long: `toolgateway connects to downstream MCP providers, namespaces their
capabilities and serves them to clients over streamable HTTP or stdio.

Use 'toolgateway [command] --help' for more information.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newConfigCmd())
	return root
}
