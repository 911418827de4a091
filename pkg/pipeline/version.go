package pipeline

import (
	"fmt"
	"slices"

	"github.com/hashicorp/go-version"
)

// Known document schema tags
const (
	APIVersionV4     = "0.4.0"
	APIVersionV5     = "0.5.0"
	APIVersionV6     = "0.6.0"
	StableAPIVersion = APIVersionV6
)

var (
	// dataflow tags that parse to an identity-only marker
	legacyDataflowVersions = []string{"0.1.0", "0.2.0", "0.3.0", APIVersionV4}
	currentDataflowVersions = []string{APIVersionV5, APIVersionV6}
	// packages accept 0.4.0 with the current payload
	packageVersions = []string{APIVersionV4, APIVersionV5, APIVersionV6}

	firstCurrent = version.Must(version.NewVersion(APIVersionV5))
)

// APIVersion is a parsed document schema tag.
type APIVersion struct {
	raw string
	v   *version.Version
}

// ParseAPIVersion accepts any well-formed semantic version.
func ParseAPIVersion(raw string) (APIVersion, error) {
	v, err := version.NewSemver(raw)
	if err != nil {
		return APIVersion{}, fmt.Errorf("invalid apiVersion %q: %w", raw, err)
	}
	return APIVersion{raw: raw, v: v}, nil
}

func (a APIVersion) String() string { return a.raw }

// IsV5 reports the 0.5.x schema, whose serde renames default to unset.
func (a APIVersion) IsV5() bool {
	return a.v != nil && a.v.Segments()[0] == 0 && a.v.Segments()[1] == 5
}

func (a APIVersion) IsV6() bool {
	return a.v != nil && a.v.Segments()[0] == 0 && a.v.Segments()[1] == 6
}

// IsLegacy reports tags older than the first current schema.
func (a APIVersion) IsLegacy() bool {
	return a.v != nil && a.v.LessThan(firstCurrent)
}

func isCurrentDataflow(raw string) bool { return slices.Contains(currentDataflowVersions, raw) }
func isLegacyDataflow(raw string) bool  { return slices.Contains(legacyDataflowVersions, raw) }
func isPackageVersion(raw string) bool  { return slices.Contains(packageVersions, raw) }
