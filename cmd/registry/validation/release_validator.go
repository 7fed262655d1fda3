package validation

import (
	"github.com/Masterminds/semver/v3"
	"github.com/lyzr/plugin-registry/cmd/registry/models"
)

// ReleaseVersionValidator rejects records carrying releases whose version
// is empty, not valid semver, or duplicated within the record.
type ReleaseVersionValidator struct{}

// NewReleaseVersionValidator creates a new release version validator
func NewReleaseVersionValidator() *ReleaseVersionValidator {
	return &ReleaseVersionValidator{}
}

// Validate implements Validator
func (v *ReleaseVersionValidator) Validate(pluginInfo *models.PluginInfo, errs *Errors) {
	seen := make(map[string]bool, len(pluginInfo.Releases))

	for _, release := range pluginInfo.Releases {
		if release.Version == "" {
			errs.RejectField("releases.version", "release.version.empty",
				"release version is required")
			continue
		}

		if _, err := semver.NewVersion(release.Version); err != nil {
			errs.RejectField("releases.version", "release.version.invalid",
				"release version %q is not a valid semantic version", release.Version)
		}

		if seen[release.Version] {
			errs.RejectField("releases.version", "release.version.duplicate",
				"release version %q appears more than once", release.Version)
		}
		seen[release.Version] = true
	}
}
