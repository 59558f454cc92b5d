package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/loykin/backendvisor"
	"github.com/loykin/backendvisor/pkg/client"
	"github.com/spf13/cobra"
)

func createRunCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the backend and supervise it until interrupted",
		Long: `Start the backend (unless auto_start = false), relay its output, and stop
it on SIGINT or SIGTERM. A backend that fails to start is logged and the
host keeps running so the control API stays available.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runHost(ctx, globalFlags.ConfigPath)
		},
	}
}

func runHost(ctx context.Context, configPath string) error {
	cfg, err := backendvisor.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	host, err := backendvisor.NewHost(cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = host.Close() }()
	return host.Run(ctx)
}

func createResolveCommand(globalFlags *GlobalFlags, flags *ResolveFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the backend command for a build mode",
		Long: `Resolve the backend launch command without starting it. Flags override
the packaged flag and base directory from the config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := backendvisor.LoadConfig(globalFlags.ConfigPath)
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}
			if cmd.Flags().Changed("packaged") {
				cfg.Packaged = flags.Packaged
			}
			if flags.BaseDir != "" {
				cfg.BaseDir = flags.BaseDir
			}
			spec, err := cfg.LaunchSpec()
			if err != nil {
				return err
			}
			return printSpec(cmd.OutOrStdout(), spec, flags.JSON)
		},
	}
	cmd.Flags().BoolVar(&flags.Packaged, "packaged", false, "resolve for a packaged build")
	cmd.Flags().StringVar(&flags.BaseDir, "base-dir", "", "directory the backend paths are resolved under")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print the spec as JSON")
	return cmd
}

func printSpec(w io.Writer, spec backendvisor.Spec, asJSON bool) error {
	if !asJSON {
		_, err := fmt.Fprintln(w, spec.String())
		return err
	}
	args := spec.Args
	if args == nil {
		args = []string{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Mode    string   `json:"mode"`
		Program string   `json:"program"`
		Args    []string `json:"args"`
	}{spec.Mode.String(), spec.Program, args})
}

func createStatusCommand(flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show backend status from a running host",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := apiClient(flags).Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createStartCommand(flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Ask a running host to start the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := apiClient(flags).Start(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createStopCommand(flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Ask a running host to stop the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := apiClient(flags).Stop(cmd.Context()); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "stopped")
			return err
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createHistoryCommand(flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent backend lifecycle events from a running host",
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := apiClient(flags).History(cmd.Context(), flags.Limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), events)
		},
	}
	addAPIFlags(cmd, flags)
	cmd.Flags().IntVar(&flags.Limit, "limit", 20, "number of events to show")
	return cmd
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "backendvisor", version)
			return err
		},
	}
}

func apiClient(flags *APIFlags) *client.Client {
	return client.New(client.Config{BaseURL: flags.APIUrl, Timeout: flags.APITimeout})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
