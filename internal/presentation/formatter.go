package presentation

import (
	"encoding/json"
	"io"

	"github.com/zjrosen/defreg/internal/registry"
)

// Formatter handles output formatting
type Formatter struct {
	writer io.Writer
}

// NewFormatter creates a new formatter
func NewFormatter(writer io.Writer) *Formatter {
	return &Formatter{
		writer: writer,
	}
}

func (f *Formatter) encode(v any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// FormatDefinition formats a resolved definition as JSON
func (f *Formatter) FormatDefinition(def DefinitionDTO) error {
	return f.encode(def)
}

// FormatUID formats a uid result as JSON
func (f *Formatter) FormatUID(uid UIDDTO) error {
	return f.encode(uid)
}

// FormatDependencies formats a closure listing as JSON
func (f *Formatter) FormatDependencies(deps DependenciesDTO) error {
	return f.encode(deps)
}

// FormatDescriptors formats a list of descriptors as JSON
func (f *Formatter) FormatDescriptors(ds []DescriptorDTO) error {
	return f.encode(ds)
}

// FormatStats formats cache tier sizes as JSON
func (f *Formatter) FormatStats(stats registry.Stats) error {
	return f.encode(stats)
}

// FormatError formats an error as JSON
func (f *Formatter) FormatError(err error) error {
	return f.encode(FromError(err))
}

// FormatEvent writes one JSON line per event, for streaming output
func (f *Formatter) FormatEvent(event any) error {
	return json.NewEncoder(f.writer).Encode(event)
}
