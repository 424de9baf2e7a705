package engine

import (
	"context"
	"fmt"

	"github.com/kennethrrosen/qubes-template-upgrade/pkg/qvm"
)

// debianUpgradeCommand is the composite package operation: refresh indexes,
// full upgrade replacing changed configuration files and tolerating missing
// packages, drop unneeded packages, clean the cache.
const debianUpgradeCommand = "apt update && " +
	"apt full-upgrade -y -o Dpkg::Options::=--force-confnew --fix-missing && " +
	"apt autoremove -y && " +
	"apt clean"

// debianSourcesRewrite substitutes the old codename for the new one across
// all package source definitions: the classic sources.list, list-style
// fragments, and deb822-style .sources fragments.
func debianSourcesRewrite(oldName, newName string) string {
	sub := fmt.Sprintf("s/%s/%s/g", oldName, newName)
	return fmt.Sprintf(
		"if [ -f /etc/apt/sources.list ]; then sed -i '%s' /etc/apt/sources.list; fi && "+
			"find /etc/apt/sources.list.d -maxdepth 1 -type f "+
			`\( -name '*.list' -o -name '*.sources' \) -exec sed -i '%s' {} +`,
		sub, sub,
	)
}

// debianSteps are the Debian-specific middle steps: rewrite the repository
// sources to the target codename (no retry; upgrading against stale sources
// would be unsafe), run the upgrade chain, then trim the filesystem
// best-effort.
func debianSteps(p *procedure, plan Plan) []step {
	return []step{
		{
			name:    "rewrite-sources",
			message: fmt.Sprintf("Updating APT repositories from %s to %s...", plan.Source.Version, plan.Target),
			run: func(ctx context.Context) error {
				command := debianSourcesRewrite(plan.Source.Version, plan.Target)
				if _, err := p.adapter.Run(ctx, p.working, command, qvm.RunOptions{Privileged: true}); err != nil {
					return NewPlatformError("failed to rewrite package sources", err).
						WithStep("rewrite-sources").WithTemplate(p.working)
				}
				return nil
			},
		},
		{
			name:    "upgrade",
			message: "Performing upgrade. Patience...",
			run:     p.packageOperation("upgrade", debianUpgradeCommand),
		},
		{
			name:     "trim",
			message:  "Trimming the filesystem...",
			nonFatal: true,
			run: func(ctx context.Context) error {
				if _, err := p.adapter.Run(ctx, p.working, "fstrim -av", qvm.RunOptions{Privileged: true}); err != nil {
					return NewPlatformError("failed to trim filesystem", err).
						WithStep("trim").WithTemplate(p.working)
				}
				return nil
			},
		},
	}
}
