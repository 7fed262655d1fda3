package validation

import (
	"regexp"

	"github.com/lyzr/plugin-registry/cmd/registry/models"
)

// Canonical plugin IDs are '<namespace>.<name>'
var pluginIDPattern = regexp.MustCompile(`^[\w-]+\.[\w-]+$`)

// IDFormatValidator rejects records whose ID is empty or not in
// canonical '<namespace>.<name>' form.
type IDFormatValidator struct{}

// NewIDFormatValidator creates a new ID format validator
func NewIDFormatValidator() *IDFormatValidator {
	return &IDFormatValidator{}
}

// Validate implements Validator
func (v *IDFormatValidator) Validate(pluginInfo *models.PluginInfo, errs *Errors) {
	if pluginInfo.ID == "" {
		errs.RejectField("id", "plugin.id.empty", "plugin id is required")
		return
	}

	if !pluginIDPattern.MatchString(pluginInfo.ID) {
		errs.RejectField("id", "plugin.id.invalid",
			"plugin id %q must be in '<namespace>.<name>' format", pluginInfo.ID)
	}
}
