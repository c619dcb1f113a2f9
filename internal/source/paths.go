package source

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/zjrosen/defreg/internal/descriptor"
)

type fileKind struct {
	suffix  string
	defType descriptor.DefType
	prefix  string
}

// Longer suffixes first so that nameFlavors.css wins over .css.
var fileKinds = []fileKind{
	{"Flavors.css", descriptor.FlavoredStyle, "css"},
	{"Controller.js", descriptor.Controller, "js"},
	{"Renderer.js", descriptor.Renderer, "js"},
	{"Provider.js", descriptor.Provider, "js"},
	{"Helper.js", descriptor.Helper, "js"},
	{"Model.js", descriptor.Model, "js"},
	{"Test.js", descriptor.TestSuite, "js"},
	{".flavors", descriptor.Flavors, descriptor.MarkupPrefix},
	{".auradoc", descriptor.Documentation, descriptor.MarkupPrefix},
	{".tokens", descriptor.Tokens, descriptor.MarkupPrefix},
	{".intf", descriptor.Interface, descriptor.MarkupPrefix},
	{".app", descriptor.Application, descriptor.MarkupPrefix},
	{".cmp", descriptor.Component, descriptor.MarkupPrefix},
	{".evt", descriptor.Event, descriptor.MarkupPrefix},
	{".lib", descriptor.Library, descriptor.MarkupPrefix},
	{".css", descriptor.Style, "css"},
}

// DescriptorForPath maps a bundle file to its descriptor. The layout is
// .../<namespace>/<bundle>/<file>. Unknown file types map to nil.
func DescriptorForPath(p string) *descriptor.Descriptor {
	clean := filepath.ToSlash(filepath.Clean(p))
	file := path.Base(clean)
	bundleDir := path.Dir(clean)
	namespace := path.Base(path.Dir(bundleDir))
	if namespace == "." || namespace == "/" || namespace == "" {
		return nil
	}

	for _, k := range fileKinds {
		if !strings.HasSuffix(file, k.suffix) {
			continue
		}
		name := strings.TrimSuffix(file, k.suffix)
		if name == "" {
			return nil
		}
		d := descriptor.New(k.prefix, namespace, name, k.defType)
		return &d
	}
	return nil
}

// RelativePath returns the bundle-relative path of d: <namespace>/<name>/<file>.
func RelativePath(d descriptor.Descriptor) (string, error) {
	for _, k := range fileKinds {
		if k.defType != d.DefType() || !strings.EqualFold(k.prefix, d.Prefix()) {
			continue
		}
		if d.Namespace() == "" || d.Name() == "" {
			break
		}
		return path.Join(d.Namespace(), d.Name(), d.Name()+k.suffix), nil
	}
	return "", fmt.Errorf("no file layout for %s %s", d.DefType(), d.QualifiedName())
}
