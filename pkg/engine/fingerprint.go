package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/kennethrrosen/qubes-template-upgrade/pkg/qvm"
	"github.com/kennethrrosen/qubes-template-upgrade/pkg/telemetry"
)

// Feature keys persisted on the template object by the platform.
const (
	featureDistribution = "os-distribution"
	featureVersion      = "os-version"
)

var leadingInteger = regexp.MustCompile(`\d+`)

// Resolver determines a template's OS family and version using a layered
// heuristic: a cheap metadata lookup first, then in-VM introspection
// commands. Each layer is a probe; the first non-empty, non-"unknown"
// result wins.
type Resolver struct {
	adapter qvm.Adapter
	log     *telemetry.Logger
}

// NewResolver creates a fingerprint resolver.
func NewResolver(adapter qvm.Adapter, log *telemetry.Logger) *Resolver {
	return &Resolver{
		adapter: adapter,
		log:     log.NewComponentLogger("fingerprint"),
	}
}

// probe is one detection layer. A probe that errors or yields an empty or
// "unknown" value is a miss, not a failure; the resolver moves on.
type probe struct {
	name string
	run  func(ctx context.Context) (string, error)
}

// Resolve produces the template's fingerprint, or a fingerprint-class error
// when no layer yields a usable value. A failure here is terminal for the
// whole run: the template's state cannot be safely characterized.
func (r *Resolver) Resolve(ctx context.Context, template string) (Fingerprint, error) {
	log := r.log.WithTemplate(template)

	raw := r.firstHit(ctx, log, r.familyProbes(template))
	if raw == "" {
		return Fingerprint{}, NewFingerprintError(
			fmt.Sprintf("could not determine OS family for %s; it might be EOL", template), nil,
		).WithTemplate(template)
	}

	family, ok := ParseFamily(raw)
	if !ok {
		return Fingerprint{}, NewFingerprintError(
			fmt.Sprintf("unsupported OS family %q for %s; only debian and fedora are supported", raw, template), nil,
		).WithTemplate(template)
	}

	version := r.firstHit(ctx, log, r.versionProbes(template, family))
	if version == "" {
		return Fingerprint{}, NewFingerprintError(
			fmt.Sprintf("could not determine OS version for %s; it might be EOL", template), nil,
		).WithTemplate(template)
	}

	fp := Fingerprint{Family: family, Version: version}
	log.Infof("resolved fingerprint: %s %s", fp.Family, fp.Version)
	return fp, nil
}

// firstHit iterates the probe list and returns the first usable value.
func (r *Resolver) firstHit(ctx context.Context, log *telemetry.Logger, probes []probe) string {
	for _, pb := range probes {
		value, err := pb.run(ctx)
		if err != nil {
			log.WithError(err).Debugf("probe %s failed", pb.name)
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" || value == UnknownToken {
			log.Debugf("probe %s missed", pb.name)
			continue
		}
		log.Debugf("probe %s resolved %q", pb.name, value)
		return value
	}
	return ""
}

// familyProbes are the OS family detection layers, cheapest first.
func (r *Resolver) familyProbes(template string) []probe {
	return []probe{
		{
			name: "feature " + featureDistribution,
			run: func(ctx context.Context) (string, error) {
				return r.adapter.ReadFeature(ctx, template, featureDistribution)
			},
		},
		{
			name: "os-release id",
			run: func(ctx context.Context) (string, error) {
				res, err := r.adapter.Run(ctx, template, "grep ^ID= /etc/os-release", qvm.RunOptions{CaptureOutput: true})
				if err != nil {
					return "", err
				}
				return strings.ToLower(osReleaseValue(res.Stdout)), nil
			},
		},
	}
}

// versionProbes are the version detection layers for a known family.
func (r *Resolver) versionProbes(template string, family Family) []probe {
	probes := []probe{
		{
			name: "feature " + featureVersion,
			run: func(ctx context.Context) (string, error) {
				return r.adapter.ReadFeature(ctx, template, featureVersion)
			},
		},
	}

	switch family {
	case FamilyFedora:
		probes = append(probes, probe{
			name: "fedora-release",
			run: func(ctx context.Context) (string, error) {
				res, err := r.adapter.Run(ctx, template, "cat /etc/fedora-release", qvm.RunOptions{CaptureOutput: true})
				if err != nil {
					return "", err
				}
				return leadingInteger.FindString(res.Stdout), nil
			},
		})

	case FamilyDebian:
		probes = append(probes,
			probe{
				name: "os-release codename",
				run: func(ctx context.Context) (string, error) {
					res, err := r.adapter.Run(ctx, template, "grep ^VERSION_CODENAME= /etc/os-release", qvm.RunOptions{CaptureOutput: true})
					if err != nil {
						return "", err
					}
					return osReleaseValue(res.Stdout), nil
				},
			},
			probe{
				name: "debian_version",
				run: func(ctx context.Context) (string, error) {
					res, err := r.adapter.Run(ctx, template, "cat /etc/debian_version", qvm.RunOptions{CaptureOutput: true})
					if err != nil {
						return "", err
					}
					line, _, _ := strings.Cut(res.Stdout, "\n")
					return line, nil
				},
			},
		)
	}

	return probes
}

// osReleaseValue extracts the value from a KEY=value os-release line,
// stripping surrounding quotes.
func osReleaseValue(line string) string {
	_, value, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found {
		return ""
	}
	return strings.Trim(value, `"'`)
}
