// Package cli implements the oauth2-server command: a standalone
// authorization server assembled from the library packages and driven by a
// YAML configuration file.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the oauth2-server command tree
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "oauth2-server",
		Short: "Standalone OAuth 2.0 authorization server",
		Long: `oauth2-server issues, refreshes and revokes OAuth 2.0 tokens for the
clients and users listed in its configuration file. Tokens can be random
strings kept in memory, SQLite or Valkey, or signed stateless tokens that
need no token storage at all.`,
		Version: version,

		// Errors are reported by Execute; usage is only useful for flag errors
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(`{{printf "oauth2-server version %s\n" .Version}}`)

	root.AddCommand(
		newServeCmd(version),
		newHashSecretCmd(),
		newGenSecretCmd(),
		newVersionCmd(version),
	)
	return root
}

// Execute runs the command and exits non-zero on failure
func Execute(version string) {
	if err := NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of oauth2-server",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "oauth2-server version %s\n", version)
		},
	}
}
