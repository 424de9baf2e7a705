package engine

import "fmt"

// fedoraUpgradeCommand builds the composite package operation: clean local
// caches, distribution-sync pinned to the target release (allowing erasure
// to resolve conflicts), then a general update and upgrade pass. Fedora's
// package manager takes the target release as a parameter, so no repository
// file rewrite is needed.
func fedoraUpgradeCommand(target string) string {
	return fmt.Sprintf(
		"dnf clean all && "+
			"dnf --releasever=%s distro-sync --best --allowerasing -y && "+
			"dnf update -y && "+
			"dnf upgrade -y",
		target,
	)
}

// fedoraSteps are the Fedora-specific middle steps: a single distro-sync and
// upgrade chain with the shared retry policy.
func fedoraSteps(p *procedure, plan Plan) []step {
	return []step{
		{
			name:    "distro-sync",
			message: "Performing upgrade. Patience...",
			run:     p.packageOperation("distro-sync", fedoraUpgradeCommand(plan.Target)),
		},
	}
}
