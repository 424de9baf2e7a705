package engine

import "strings"

// UnknownToken is the sentinel value meaning a probe or lookup produced no
// usable result. It is never a valid family, version, or upgrade target.
const UnknownToken = "unknown"

// Family is a supported OS family.
type Family string

const (
	// FamilyDebian covers Debian-based templates (codename versioning).
	FamilyDebian Family = "debian"

	// FamilyFedora covers Fedora-based templates (integer versioning).
	FamilyFedora Family = "fedora"
)

// ParseFamily maps a raw distribution identifier to a supported Family.
func ParseFamily(raw string) (Family, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debian":
		return FamilyDebian, true
	case "fedora":
		return FamilyFedora, true
	default:
		return "", false
	}
}

// Fingerprint is the detected OS family and version of a template.
// It is produced once per invocation and never mutated afterward.
type Fingerprint struct {
	Family  Family `json:"family"`
	Version string `json:"version"`
}

// Valid reports whether both fields carry usable values.
func (f Fingerprint) Valid() bool {
	return f.Family != "" && f.Version != "" && f.Version != UnknownToken
}

// Plan is the computed upgrade transition for a template.
type Plan struct {
	Source Fingerprint `json:"source"`
	Target string      `json:"target"`
}

// CloneRequest asks for the template to be cloned before upgrading, so the
// original stays usable if the upgrade fails.
type CloneRequest struct {
	Enabled bool   `json:"enabled"`
	NewName string `json:"new_name" validate:"required_if=Enabled true"`
}
