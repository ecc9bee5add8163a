package config

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/oszuidwest/zwfm-camswitch/internal/types"
	"github.com/oszuidwest/zwfm-camswitch/internal/util"
)

// validate is the shared validator instance for configuration structs.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Use JSON tag names in error messages instead of struct field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})

	// Ethernet mics are encoded as <mic 1-8><lobe 1-8>.
	if err := validate.RegisterValidation("ethernet_mic", func(fl validator.FieldLevel) bool {
		return IsEthernetMic(int(fl.Field().Int()))
	}); err != nil {
		panic(err)
	}
}

// IsEthernetMic reports whether id is a valid ethernet mic lobe id (11-88, both digits 1-8).
func IsEthernetMic(id int) bool {
	hi, lo := id/10, id%10
	return hi >= 1 && hi <= 8 && lo >= 1 && lo <= 8
}

// CategoryOf returns the category a mic id belongs to by range.
func CategoryOf(id int) (types.MicCategory, bool) {
	switch {
	case id >= 1 && id <= 8:
		return types.MicAnalog, true
	case IsEthernetMic(id):
		return types.MicEthernet, true
	case id >= 101 && id <= 104:
		return types.MicUSB, true
	case id >= 901 && id <= 999:
		return types.MicExternal, true
	}
	return "", false
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() *types.ValidationError {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.validate()
}

// validate checks all configuration fields for correctness. Caller must hold c.mu.
func (c *Config) validate() *types.ValidationError {
	verr := types.NewValidationError()

	if err := validate.Struct(c); err != nil {
		collectValidatorErrors(verr, err)
	}

	c.validateMicrophones(verr)
	c.validateCompositions(verr)
	c.validatePresenter(verr)

	return verr
}

// collectValidatorErrors converts validator errors into field errors.
func collectValidatorErrors(verr *types.ValidationError, err error) {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		verr.Add("", err.Error(), nil)
		return
	}
	for _, e := range validationErrors {
		// Strip the root struct name so fields read like JSON paths.
		field := e.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		verr.Add(field, formatValidationMessage(e), e.Value())
	}
}

// formatValidationMessage creates a human-readable message from a validator error.
func formatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required", "required_if":
		return "is required"
	case "min":
		return fmt.Sprintf("must have at least %s entries", e.Param())
	case "max":
		if e.Kind() == reflect.Slice {
			return fmt.Sprintf("can have at most %s entries", e.Param())
		}
		return fmt.Sprintf("must be at most %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "gtfield":
		return fmt.Sprintf("must be greater than %s", strings.ToLower(e.Param()))
	case "unique":
		return "cannot contain duplicates"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "ipv4":
		return "must be a valid IPv4 address"
	case "url":
		return "must be a valid URL"
	case "ethernet_mic":
		return "must be an ethernet mic lobe id 11-88 (digits 1-8)"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}

// validateMicrophones checks cross-category uniqueness.
func (c *Config) validateMicrophones(verr *types.ValidationError) {
	all := c.Microphones.All()
	if len(all) == 0 {
		verr.Add("microphones", "at least one microphone must be configured", nil)
		return
	}
	seen := make(map[int]bool, len(all))
	for _, id := range all {
		if seen[id] {
			verr.Add("microphones", "microphone ids must be unique across categories", id)
			continue
		}
		seen[id] = true
	}
}

// validateCompositions checks mic references, zones and the overview invariant.
func (c *Config) validateCompositions(verr *types.ValidationError) {
	configured := c.Microphones.All()

	zones := make(map[string]bool, len(c.Zones))
	for i, z := range c.Zones {
		if zones[z.Name] {
			verr.Add(fmt.Sprintf("zones[%d].name", i), "zone names must be unique", z.Name)
		}
		zones[z.Name] = true
	}

	names := make(map[string]bool, len(c.Compositions))
	overviews := 0
	for i := range c.Compositions {
		comp := &c.Compositions[i]
		field := fmt.Sprintf("compositions[%d]", i)

		if names[comp.Name] {
			verr.Add(field+".name", "composition names must be unique", comp.Name)
		}
		names[comp.Name] = true

		if comp.IsOverview() {
			overviews++
			if comp.Source != types.SourceNone {
				verr.Add(field+".source", "overview compositions must use source none", comp.Source)
			}
		} else {
			for _, mic := range comp.Mics {
				if !slices.Contains(configured, mic) {
					verr.Add(field+".mics", "references a microphone that is not configured", mic)
				}
			}
			if len(comp.Presets) > 0 {
				verr.Add(field+".presets", "presets are only allowed on overview compositions", comp.Presets)
			}
		}

		switch {
		case comp.Zone != "":
			if !zones[comp.Zone] {
				verr.Add(field+".zone", "references an unknown zone", comp.Zone)
			}
		case len(comp.Connectors) == 0:
			verr.Add(field+".connectors", "must list at least one connector when no zone is used", nil)
		}
	}

	if overviews == 0 {
		verr.Add("compositions", "an overview composition with mics [0] and source none is required", nil)
	}
	if c.Overview.Selected != "" && !slices.Contains(c.overviewNamesLocked(), c.Overview.Selected) {
		verr.Add("overview.selected", "must name an overview composition", c.Overview.Selected)
	}
	if c.TopSpeakers.Enabled && len(c.TopSpeakers.DefaultConnectors) == 0 {
		verr.Add("top_speakers.default_connectors", "is required when top speakers is enabled", nil)
	}
	if path := c.Notifications.Log.Path; path != "" {
		if err := util.ValidatePath("notifications.log.path", path); err != nil {
			verr.Add("notifications.log.path", err.Error(), path)
		}
	}
}

// validatePresenter checks the Q&A audience mics.
func (c *Config) validatePresenter(verr *types.ValidationError) {
	if !c.Presenter.AllowQA {
		return
	}
	configured := c.Microphones.All()
	for _, mic := range c.Presenter.AudienceMics {
		if !slices.Contains(configured, mic) {
			verr.Add("presenter.audience_mics", "references a microphone that is not configured", mic)
		}
	}
	if c.Presenter.Connector == 0 {
		verr.Add("presenter.connector", "is required when Q&A mode is allowed", nil)
	}
}

// ShadowedMic is a microphone claimed by more than one composition.
type ShadowedMic struct {
	Mic          int
	Compositions []string
}

// shadowedMicsLocked reports mics that appear in several non-overview compositions.
func (c *Config) shadowedMicsLocked() []ShadowedMic {
	owners := make(map[int][]string)
	var order []int
	for i := range c.Compositions {
		comp := &c.Compositions[i]
		if comp.IsOverview() {
			continue
		}
		for _, mic := range comp.Mics {
			if _, ok := owners[mic]; !ok {
				order = append(order, mic)
			}
			owners[mic] = append(owners[mic], comp.Name)
		}
	}
	var out []ShadowedMic
	for _, mic := range order {
		if len(owners[mic]) > 1 {
			out = append(out, ShadowedMic{Mic: mic, Compositions: owners[mic]})
		}
	}
	return out
}
