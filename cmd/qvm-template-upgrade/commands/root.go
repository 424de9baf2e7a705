package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kennethrrosen/qubes-template-upgrade/pkg/engine"
)

var (
	// Global flags
	configPath string
	verbose    bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	var (
		clone   bool
		newName string
	)

	rootCmd := &cobra.Command{
		Use:   "qvm-template-upgrade TEMPLATE",
		Short: "Upgrade a Qubes OS template VM to the next OS release",
		Long: `qvm-template-upgrade upgrades a Debian or Fedora template VM in place
to the next release of its distribution, driving the platform's qvm-*
tools from dom0.

The template's OS family and version are detected from qvm-features
metadata first, falling back to introspection commands inside the VM.
Debian templates move to the next codename; Fedora templates move to
the next release number.

With --clone the template is cloned first and the clone is upgraded,
leaving the original untouched.`,
		Example: `  # Upgrade a template in place
  qvm-template-upgrade debian-12

  # Clone first, then upgrade the clone
  qvm-template-upgrade -c -N debian-13 debian-12`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpgrade(cmd.Context(), version, args[0], engine.CloneRequest{
				Enabled: clone,
				NewName: newName,
			})
		},
	}

	rootCmd.Flags().BoolVarP(&clone, "clone", "c", false, "clone the template before upgrading")
	rootCmd.Flags().StringVarP(&newName, "new-template", "N", "", "name for the clone (required with --clone)")

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newFingerprintCommand(version))
	rootCmd.AddCommand(newHistoryCommand(version))

	return rootCmd
}

func runUpgrade(ctx context.Context, version, template string, clone engine.CloneRequest) error {
	rt, err := newRuntime(version)
	if err != nil {
		return err
	}
	defer rt.shutdown(ctx)

	// Fail fast when not running where the qvm-* tools live.
	if err := rt.adapter.Available(ctx); err != nil {
		return fmt.Errorf("platform tools unavailable (are you in dom0?): %w", err)
	}

	store, cleanup, err := rt.openStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := []engine.Option{}
	if store != nil {
		opts = append(opts, engine.WithStore(store))
	}
	if rt.cfg.Tracing.Enabled {
		opts = append(opts, engine.WithTracer(rt.tracer))
	}

	orch := engine.New(rt.adapter, rt.log, opts...)
	if _, err := orch.Run(ctx, template, clone); err != nil {
		return err
	}
	return nil
}
