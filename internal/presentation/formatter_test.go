package presentation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/defreg/internal/definition"
	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/registry"
	"github.com/zjrosen/defreg/internal/source"
	"github.com/zjrosen/defreg/internal/testutil"
	"github.com/zjrosen/defreg/internal/yamldef"
)

func TestFromDescriptor(t *testing.T) {
	d := descriptor.MustParse("ui:button", descriptor.Component)
	dto := FromDescriptor(d)
	require.Equal(t, DescriptorDTO{
		QualifiedName: "markup://ui:button",
		DefType:       "COMPONENT",
		Prefix:        "markup",
		Namespace:     "ui",
		Name:          "button",
	}, dto)
}

func TestFromDefinition(t *testing.T) {
	loader := testutil.NewBuilder(t).
		WithComponent("ui:button", testutil.Global(), testutil.Events("ui:press")).
		Build()
	d := descriptor.MustParse("ui:button", descriptor.Component)
	def, err := source.NewRegistry(loader, yamldef.New(nil)).Compile(context.Background(), d)
	require.NoError(t, err)

	dto := FromDefinition(def, "uid-1")
	require.Equal(t, "uid-1", dto.UID)
	require.Equal(t, "GLOBAL", dto.Access)
	require.Equal(t, def.OwnHash(), dto.OwnHash)
	require.Len(t, dto.Dependencies, 2)
	require.Equal(t, "markup://aura:component", dto.Dependencies[0].QualifiedName)
	require.Equal(t, "markup://ui:press", dto.Dependencies[1].QualifiedName)
	require.NotEmpty(t, dto.Definition)
}

func TestFromError(t *testing.T) {
	d := descriptor.MustParse("ui:missing", descriptor.Component)

	dto := FromError(definition.NotFound(d))
	require.Equal(t, "not_found", dto.Kind)
	require.Equal(t, "No COMPONENT named markup://ui:missing found", dto.Message)
	require.NotNil(t, dto.Descriptor)
	require.Equal(t, "markup://ui:missing", dto.Descriptor.QualifiedName)

	dto = FromError(&registry.StaleUIDError{Descriptor: d, Candidate: "old", Fresh: "new"})
	require.Equal(t, "client_out_of_sync", dto.Kind)
	require.NotNil(t, dto.Descriptor)

	dto = FromError(errors.New("disk on fire"))
	require.Equal(t, "internal", dto.Kind)
	require.Nil(t, dto.Descriptor)
}

func TestFormatter_WritesIndentedJSON(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter(&buf)

	ds := []descriptor.Descriptor{
		descriptor.MustParse("ui:button", descriptor.Component),
		descriptor.MustParse("ui:card", descriptor.Component),
	}
	require.NoError(t, f.FormatDescriptors(FromDescriptors(ds)))
	require.Contains(t, buf.String(), "\n  {\n    \"qualified_name\": \"markup://ui:button\"")

	var decoded []DescriptorDTO
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	require.Equal(t, "card", decoded[1].Name)
}

func TestFormatter_Events(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter(&buf)
	require.NoError(t, f.FormatEvent(map[string]string{"kind": "CHANGED"}))
	require.NoError(t, f.FormatEvent(map[string]string{"kind": "DELETED"}))
	require.Equal(t, "{\"kind\":\"CHANGED\"}\n{\"kind\":\"DELETED\"}\n", buf.String())
}

func TestFormatter_Stats(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFormatter(&buf).FormatStats(registry.Stats{Definitions: 3}))
	require.Contains(t, buf.String(), `"definitions": 3`)
}
