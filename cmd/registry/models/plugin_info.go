package models

import (
	"time"
)

// PluginInfo is a plugin's metadata record: the top-level entity
// identifying a pluggable extension and owning its published releases.
// Maps to: plugin_info table
type PluginInfo struct {
	// Plugin canonical ID, '<namespace>.<name>'
	// Examples: 'armory.helloWorld', 'spinnaker.stageTimeout'
	ID string `db:"id" json:"id"`

	Description string `db:"description" json:"description,omitempty"`

	// Plugin author or organization
	Provider string `db:"provider" json:"provider,omitempty"`

	// Consuming service tag, used for filtered listing
	Service string `db:"service" json:"service,omitempty"`

	// Published releases, unique by version
	Releases []Release `db:"releases" json:"releases"`

	CreatedTimestamp time.Time `db:"created_ts" json:"createdTimestamp"`
}

// Release is one published version of a plugin
type Release struct {
	// Unique within the parent plugin, immutable once persisted
	Version string `json:"version"`

	// Release date as reported by the publisher (opaque payload)
	Date string `json:"date,omitempty"`

	// Service compatibility constraints, e.g. 'orca>=8.0.0'
	Requires string `json:"requires,omitempty"`

	// Location of the release binary
	URL string `json:"url,omitempty"`

	// SHA-512 digest of the release binary
	Sha512Sum string `json:"sha512sum,omitempty"`

	// At most one release per plugin is preferred at any time
	Preferred bool `json:"preferred"`

	Remarks string `json:"remarks,omitempty"`

	// Audit fields, stamped on every release-level mutation
	LastModified   time.Time `json:"lastModified"`
	LastModifiedBy string    `json:"lastModifiedBy,omitempty"`
}

// GetRelease returns the release with the given version, if present
func (p *PluginInfo) GetRelease(version string) (*Release, bool) {
	for i := range p.Releases {
		if p.Releases[i].Version == version {
			return &p.Releases[i], true
		}
	}
	return nil, false
}

// SetRelease writes a release back into the collection by version.
// Returns false when no release with that version exists.
func (p *PluginInfo) SetRelease(version string, release Release) bool {
	for i := range p.Releases {
		if p.Releases[i].Version == version {
			p.Releases[i] = release
			return true
		}
	}
	return false
}

// PreferredRelease returns the currently preferred release, if any
func (p *PluginInfo) PreferredRelease() (*Release, bool) {
	for i := range p.Releases {
		if p.Releases[i].Preferred {
			return &p.Releases[i], true
		}
	}
	return nil, false
}
