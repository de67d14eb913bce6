package da

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownTemplate is returned when a job names a template outside the
// catalogue.
var ErrUnknownTemplate = errors.New("template is not registered")

// ErrMissingArgument is returned when a submission omits a required
// template argument.
var ErrMissingArgument = errors.New("missing required arguments")

// Template pairs a named execution-engine activity with its argument
// contract: which arguments are required, which defaults apply, and the
// stable message reported to callers when a job built from it fails.
type Template struct {
	Name        string
	Engine      string
	Description string

	// Package is the local path of the app bundle archive uploaded during
	// registration. A missing package is expected outside production and
	// surfaces as ErrArtifactMissing.
	Package string

	CommandLine []string

	// Required lists argument names that must be supplied at submission.
	Required []string

	// Defaults are merged under the caller's arguments.
	Defaults map[string]Argument

	// FailureMessage is the caller-facing error for failed jobs, kept
	// stable across engine versions.
	FailureMessage string

	// Shared marks templates whose remote bundle is owned by another
	// client identity. Deleting them requires owner privileges.
	Shared bool
}

// Catalogue is the fixed, compiled set of job templates. It is assembled at
// startup and never changes during the process lifetime.
type Catalogue struct {
	templates []Template
	byName    map[string]Template
}

// NewCatalogue creates a catalogue preserving the given registration order.
func NewCatalogue(templates ...Template) *Catalogue {
	c := &Catalogue{
		templates: templates,
		byName:    make(map[string]Template, len(templates)),
	}
	for _, t := range templates {
		c.byName[t.Name] = t
	}
	return c
}

// DefaultCatalogue returns the compiled production template set.
func DefaultCatalogue() *Catalogue {
	return NewCatalogue(
		Template{
			Name:        "create-rfa",
			Engine:      "Autodesk.Inventor+2024",
			Description: "Convert an Inventor part into a Revit family file",
			Package:     "packages/CreateRFA.zip",
			CommandLine: []string{"$(engine.path)\\InventorCoreConsole.exe", "/al", "$(appbundles[create-rfa].path)"},
			Required:    []string{"inputModel", "outputRfa"},
			Defaults: map[string]Argument{
				"rfaTemplate": {Kind: KindValue, Value: "Metric"},
			},
			FailureMessage: "Failed to generate RFA file",
		},
		Template{
			Name:        "update-parameters",
			Engine:      "Autodesk.Inventor+2024",
			Description: "Apply parameter changes to an Inventor model",
			Package:     "packages/UpdateParameters.zip",
			CommandLine: []string{"$(engine.path)\\InventorCoreConsole.exe", "/al", "$(appbundles[update-parameters].path)"},
			Required:    []string{"inputModel", "parameters", "outputModel"},
			FailureMessage: "Failed to update model parameters",
		},
		Template{
			Name:        "create-thumbnail",
			Engine:      "Autodesk.Inventor+2024",
			Description: "Render a preview image for a model",
			Package:     "packages/CreateThumbnail.zip",
			CommandLine: []string{"$(engine.path)\\InventorCoreConsole.exe", "/al", "$(appbundles[create-thumbnail].path)"},
			Required:    []string{"inputModel", "outputImage"},
			Defaults: map[string]Argument{
				"imageSize": {Kind: KindValue, Value: "256"},
			},
			FailureMessage: "Failed to render model thumbnail",
		},
		Template{
			Name:           "extract-drawing",
			Engine:         "Autodesk.AutoCAD+24",
			Description:    "Export a 2D drawing from a shared extraction bundle",
			Package:        "packages/ExtractDrawing.zip",
			CommandLine:    []string{"$(engine.path)\\accoreconsole.exe", "/al", "$(appbundles[extract-drawing].path)"},
			Required:       []string{"inputModel", "outputDrawing"},
			FailureMessage: "Failed to extract drawing",
			Shared:         true,
		},
	)
}

// Get returns the named template.
func (c *Catalogue) Get(name string) (Template, error) {
	t, ok := c.byName[name]
	if !ok {
		return Template{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	return t, nil
}

// List returns the templates in registration order.
func (c *Catalogue) List() []Template {
	out := make([]Template, len(c.templates))
	copy(out, c.templates)
	return out
}

// Resolve returns the named template along with the caller's arguments
// merged over the template defaults, after checking that every required
// argument is present.
func (c *Catalogue) Resolve(name string, args map[string]Argument) (Template, map[string]Argument, error) {
	t, err := c.Get(name)
	if err != nil {
		return Template{}, nil, err
	}

	merged := make(map[string]Argument, len(t.Defaults)+len(args))
	for k, v := range t.Defaults {
		merged[k] = v
	}
	for k, v := range args {
		merged[k] = v
	}

	var missing []string
	for _, req := range t.Required {
		if _, ok := merged[req]; !ok {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Template{}, nil, fmt.Errorf("template %q: %w: %v", name, ErrMissingArgument, missing)
	}
	return t, merged, nil
}
