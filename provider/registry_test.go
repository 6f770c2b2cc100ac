package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderRegistry_Register(t *testing.T) {
	registry := NewProviderRegistry()

	mockFactory := func() PaymentProvider { return nil }
	registry.Register("test-provider", mockFactory)

	factory, err := registry.Get("test-provider")
	assert.NoError(t, err)
	assert.NotNil(t, factory)
}

func TestProviderRegistry_GetProviderNames(t *testing.T) {
	registry := NewProviderRegistry()

	names := registry.GetProviderNames()
	assert.Empty(t, names)

	mockFactory := func() PaymentProvider { return nil }
	registry.Register("provider2", mockFactory)
	registry.Register("provider1", mockFactory)

	names = registry.GetProviderNames()
	assert.Equal(t, []string{"provider1", "provider2"}, names)
}

func TestProviderRegistry_Get_NotFound(t *testing.T) {
	registry := NewProviderRegistry()

	factory, err := registry.Get("non-existent")
	assert.Error(t, err)
	assert.Nil(t, factory)
	assert.Contains(t, err.Error(), "is not registered")
}

func TestProviderRegistry_CreateProvider(t *testing.T) {
	registry := NewProviderRegistry()
	registry.Register("stub", func() PaymentProvider { return &stubProvider{} })

	first, err := registry.CreateProvider("stub")
	assert.NoError(t, err)
	second, err := registry.CreateProvider("stub")
	assert.NoError(t, err)

	// Each call creates a fresh instance.
	assert.NotSame(t, first, second)
}
