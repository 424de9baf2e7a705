package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kennethrrosen/qubes-template-upgrade/pkg/engine"
)

func newFingerprintCommand(version string) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "fingerprint TEMPLATE",
		Short: "Detect a template's OS family and version without upgrading",
		Long: `Resolve the template's OS family and version using the same layered
detection the upgrade uses: qvm-features metadata first, then
introspection commands inside the VM. The upgrade target is shown
when one exists.`,
		Example: `  # Show what an upgrade would do
  qvm-template-upgrade fingerprint debian-12

  # Machine-readable output
  qvm-template-upgrade fingerprint --json fedora-39`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			template := args[0]

			rt, err := newRuntime(version)
			if err != nil {
				return err
			}
			defer rt.shutdown(cmd.Context())

			if err := rt.adapter.Available(cmd.Context()); err != nil {
				return fmt.Errorf("platform tools unavailable (are you in dom0?): %w", err)
			}

			resolver := engine.NewResolver(rt.adapter, rt.log)
			fp, err := resolver.Resolve(cmd.Context(), template)
			if err != nil {
				return err
			}

			// The target is informational here; a template on the newest
			// release fingerprints fine but has nowhere to go yet.
			target := ""
			if plan, err := engine.BuildPlan(fp); err == nil {
				target = plan.Target
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Template string        `json:"template"`
					Family   engine.Family `json:"family"`
					Version  string        `json:"version"`
					Target   string        `json:"target,omitempty"`
				}{template, fp.Family, fp.Version, target})
			}

			fmt.Printf("Template type: %s\n", fp.Family)
			fmt.Printf("Template version: %s\n", fp.Version)
			if target != "" {
				fmt.Printf("Upgrade target: %s\n", target)
			} else {
				fmt.Println("Upgrade target: none known")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}
