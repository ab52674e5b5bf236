package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand(ctx).Execute(); err != nil {
		stop()
		os.Exit(1)
	}
}

// NewRootCommand builds the wand-mcp command tree. Running the root command
// without a subcommand serves.
func NewRootCommand(ctx context.Context) *cobra.Command {
	serve := NewServeCommand(ctx)
	root := &cobra.Command{
		Use:   "wand-mcp",
		Short: "MCP server for image processing on a managed wand runtime",
		Long: `wand-mcp serves image, color and OCR tools over the MCP protocol on
stdin/stdout. Every image a client opens is a tracked native resource; all
native calls run on dedicated worker threads.

Configure it in your MCP client (e.g., Claude Desktop). Logs go to stderr.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         serve.RunE,
	}
	root.Flags().AddFlagSet(serve.Flags())
	root.AddCommand(serve, NewVersionCommand())
	return root
}

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "wand-mcp %s\n", Version)
			fmt.Fprintf(out, "  Build time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git commit: %s\n", GitCommit)
		},
	}
}
