package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// debianSuccessors is the ordered release transition table for Debian
// codenames. The newest known codename has no entry: it has no known
// successor until the table is updated for the next release.
var debianSuccessors = map[string]string{
	"buster":   "bullseye",
	"bullseye": "bookworm",
	"bookworm": "trixie",
}

// NextDebian returns the successor codename for a Debian release, or the
// unknown sentinel when the input is unrecognized or has no known successor.
func NextDebian(current string) string {
	if next, ok := debianSuccessors[strings.TrimSpace(current)]; ok {
		return next
	}
	return UnknownToken
}

// BuildPlan computes the upgrade transition for a fingerprint. It fails
// closed: an unrecognized or terminal source version yields a plan error
// before any VM mutation occurs.
func BuildPlan(fp Fingerprint) (Plan, error) {
	if !fp.Valid() {
		return Plan{}, NewPlanError(fmt.Sprintf("invalid fingerprint %q/%q", fp.Family, fp.Version), nil)
	}

	switch fp.Family {
	case FamilyDebian:
		target := NextDebian(fp.Version)
		if target == UnknownToken {
			return Plan{}, NewPlanError(fmt.Sprintf("no known successor for Debian %q", fp.Version), nil)
		}
		return Plan{Source: fp, Target: target}, nil

	case FamilyFedora:
		// Every Fedora release has a successor by construction.
		current, err := strconv.Atoi(strings.TrimSpace(fp.Version))
		if err != nil || current < 0 {
			return Plan{}, NewPlanError(fmt.Sprintf("invalid Fedora release number %q", fp.Version), err)
		}
		return Plan{Source: fp, Target: strconv.Itoa(current + 1)}, nil

	default:
		return Plan{}, NewPlanError(fmt.Sprintf("unsupported OS family %q", fp.Family), nil)
	}
}
