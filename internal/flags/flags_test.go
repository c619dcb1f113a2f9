package flags

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_Enabled(t *testing.T) {
	tests := []struct {
		name     string
		registry *Registry
		flag     string
		expected bool
	}{
		{
			name:     "default flag is on",
			registry: New(nil),
			flag:     FlagFilterCache,
			expected: true,
		},
		{
			name:     "configured value overrides default",
			registry: New(map[string]bool{FlagAccessCache: false}),
			flag:     FlagAccessCache,
			expected: false,
		},
		{
			name:     "configured extra flag",
			registry: New(map[string]bool{"experimental": true}),
			flag:     "experimental",
			expected: true,
		},
		{
			name:     "unknown flag returns false",
			registry: New(nil),
			flag:     "unknown-flag",
			expected: false,
		},
		{
			name:     "nil registry returns false",
			registry: nil,
			flag:     FlagNegativeCache,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.registry.Enabled(tt.flag))
		})
	}
}

func TestRegistry_All(t *testing.T) {
	r := New(map[string]bool{FlagNegativeCache: false})
	all := r.All()
	require.Equal(t, map[string]bool{
		FlagFilterCache:   true,
		FlagAccessCache:   true,
		FlagNegativeCache: false,
	}, all)

	all[FlagFilterCache] = false
	require.True(t, r.Enabled(FlagFilterCache), "All returns a copy")

	var nilRegistry *Registry
	require.Empty(t, nilRegistry.All())
}
