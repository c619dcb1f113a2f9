package presentation

import (
	"errors"

	"github.com/zjrosen/defreg/internal/definition"
	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/registry"
)

// DescriptorDTO represents a descriptor for presentation
type DescriptorDTO struct {
	QualifiedName string `json:"qualified_name"`
	DefType       string `json:"def_type"`
	Prefix        string `json:"prefix"`
	Namespace     string `json:"namespace,omitempty"`
	Name          string `json:"name"`
	Bundle        string `json:"bundle,omitempty"`
}

// DefinitionDTO represents a resolved definition with its closure UID
type DefinitionDTO struct {
	Descriptor   DescriptorDTO   `json:"descriptor"`
	UID          string          `json:"uid,omitempty"`
	OwnHash      string          `json:"own_hash"`
	Access       string          `json:"access"`
	Dependencies []DescriptorDTO `json:"dependencies"` // direct dependencies only
	Definition   map[string]any  `json:"definition,omitempty"`
}

// UIDDTO is the result of a uid lookup
type UIDDTO struct {
	Descriptor DescriptorDTO `json:"descriptor"`
	UID        string        `json:"uid"`
	Candidate  string        `json:"candidate,omitempty"`
	Stale      bool          `json:"stale"`
}

// DependenciesDTO lists the closure recorded for a UID
type DependenciesDTO struct {
	UID          string          `json:"uid"`
	Dependencies []DescriptorDTO `json:"dependencies"`
}

// ErrorDTO is an error rendered for machine consumption
type ErrorDTO struct {
	Kind       string         `json:"kind"`
	Message    string         `json:"message"`
	Descriptor *DescriptorDTO `json:"descriptor,omitempty"`
}

// FromDescriptor converts a descriptor to a DTO.
func FromDescriptor(d descriptor.Descriptor) DescriptorDTO {
	return DescriptorDTO{
		QualifiedName: d.QualifiedName(),
		DefType:       d.DefType().String(),
		Prefix:        d.Prefix(),
		Namespace:     d.Namespace(),
		Name:          d.Name(),
		Bundle:        bundleName(d),
	}
}

func bundleName(d descriptor.Descriptor) string {
	if b := d.Bundle(); b != nil {
		return b.QualifiedName()
	}
	return ""
}

// FromDescriptors converts a slice of descriptors to DTOs
func FromDescriptors(ds []descriptor.Descriptor) []DescriptorDTO {
	dtos := make([]DescriptorDTO, len(ds))
	for i, d := range ds {
		dtos[i] = FromDescriptor(d)
	}
	return dtos
}

// FromDefinition converts a definition and the UID of its closure to a DTO.
func FromDefinition(def definition.Definition, uid string) DefinitionDTO {
	return DefinitionDTO{
		Descriptor:   FromDescriptor(def.Descriptor()),
		UID:          uid,
		OwnHash:      def.OwnHash(),
		Access:       def.Access().String(),
		Dependencies: FromDescriptors(def.Dependencies()),
		Definition:   def.Serialize(),
	}
}

// FromError converts an error to a DTO. Definition and stale-UID errors keep
// their descriptor.
func FromError(err error) ErrorDTO {
	dto := ErrorDTO{Kind: registry.ErrorKind(err), Message: err.Error()}

	var stale *registry.StaleUIDError
	var defErr *definition.Error
	switch {
	case errors.As(err, &stale):
		d := FromDescriptor(stale.Descriptor)
		dto.Descriptor = &d
	case errors.As(err, &defErr) && !defErr.Descriptor.IsZero():
		d := FromDescriptor(defErr.Descriptor)
		dto.Descriptor = &d
	}
	return dto
}
