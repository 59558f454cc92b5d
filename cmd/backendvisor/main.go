package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all commands
type GlobalFlags struct {
	ConfigPath string
}

// ResolveFlags holds flags for the resolve command
type ResolveFlags struct {
	Packaged bool
	BaseDir  string
	JSON     bool
}

// APIFlags holds flags for commands talking to a running host
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	Limit      int
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	resolveFlags := &ResolveFlags{}
	apiFlags := &APIFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(globalFlags),
		createResolveCommand(globalFlags, resolveFlags),
		createStatusCommand(apiFlags),
		createStartCommand(apiFlags),
		createStopCommand(apiFlags),
		createHistoryCommand(apiFlags),
		createVersionCommand(),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "backendvisor",
		Short: "Supervise the local backend server of a desktop shell",
		Long: `Backendvisor launches the application's local backend server, relays its
output into the host log and stops it when the host quits.

Examples:
  backendvisor run --config=backendvisor.toml
  backendvisor resolve --packaged --base-dir=/opt/app/resources
  backendvisor status --api-url=http://127.0.0.1:8787/api`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func addAPIFlags(cmd *cobra.Command, flags *APIFlags) {
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "http://127.0.0.1:8787/api", "control API base URL of a running host")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
}
