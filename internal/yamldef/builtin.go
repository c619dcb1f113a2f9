package yamldef

import (
	"fmt"

	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/source"
)

const baseSource = `kind: %s
access: global
abstract: true
extensible: true
support: GA
attributes:
  - name: body
    type: Aura.Component[]
`

// Builtins returns the sub-registry serving the base prototypes. Neither
// prototype has dependencies.
func Builtins() *source.Registry {
	loader := source.NewMemoryLoader("builtin")
	loader.Put(BaseComponent, fmt.Sprintf(baseSource, "component"))
	loader.Put(BaseApplication, fmt.Sprintf(baseSource, "application"))
	return source.NewRegistry(loader, New(nil),
		source.WithPrefixes(descriptor.MarkupPrefix),
		source.WithNamespaces(BaseComponent.Namespace()),
		source.WithDefTypes(descriptor.Component, descriptor.Application),
	)
}
