package config

import (
	"fmt"
	"log"
	"strings"
	"sync"
)

// ProviderConfig manages payment provider configurations per tenant.
// Configurations live in memory and are persisted to SQLite when a
// storage backend is attached.
type ProviderConfig struct {
	configs map[string]map[string]string
	storage *SQLiteStorage
	mu      sync.RWMutex
}

// NewProviderConfig creates a provider configuration store backed by SQLite.
// A nil or failed storage leaves the store in memory-only mode.
func NewProviderConfig(storage *SQLiteStorage) *ProviderConfig {
	config := &ProviderConfig{
		configs: make(map[string]map[string]string),
		storage: storage,
	}

	if storage != nil {
		if err := config.loadFromStorage(); err != nil {
			log.Printf("Warning: Failed to load configurations from SQLite: %v", err)
		}
	} else {
		log.Printf("Warning: Config storage not available, using memory-only mode")
	}

	return config
}

func tenantKey(tenantID int, providerName string) string {
	return fmt.Sprintf("%d_%s", tenantID, strings.ToLower(providerName))
}

// loadFromStorage loads all tenant configurations from SQLite storage
func (c *ProviderConfig) loadFromStorage() error {
	configs, err := c.storage.LoadAllTenantConfigs()
	if err != nil {
		return fmt.Errorf("failed to load configs from SQLite: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range configs {
		c.configs[k] = v
	}

	return nil
}

// SetTenantConfig dynamically sets configuration for a specific tenant and provider
func (c *ProviderConfig) SetTenantConfig(tenantID int, providerName string, config map[string]string) error {
	if tenantID <= 0 {
		return fmt.Errorf("tenant ID must be positive")
	}
	if providerName == "" {
		return fmt.Errorf("provider name cannot be empty")
	}
	if len(config) == 0 {
		return fmt.Errorf("config cannot be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.storage != nil {
		if err := c.storage.SaveTenantConfig(tenantID, providerName, config); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
	}

	c.configs[tenantKey(tenantID, providerName)] = config
	return nil
}

// GetTenantConfig returns configuration for a specific tenant and provider
func (c *ProviderConfig) GetTenantConfig(tenantID int, providerName string) (map[string]string, error) {
	if tenantID <= 0 {
		return nil, fmt.Errorf("tenant ID must be positive")
	}

	key := tenantKey(tenantID, providerName)

	c.mu.RLock()
	config, exists := c.configs[key]
	c.mu.RUnlock()

	// Fall back to storage for configs written by another replica.
	if !exists && c.storage != nil {
		stored, err := c.storage.LoadTenantConfig(tenantID, providerName)
		if err == nil {
			c.mu.Lock()
			c.configs[key] = stored
			c.mu.Unlock()
			config = stored
			exists = true
		}
	}

	if !exists {
		return nil, fmt.Errorf("no configuration found for tenant: %d, provider: %s", tenantID, providerName)
	}

	// Return a copy to prevent external modification
	configCopy := make(map[string]string)
	for k, v := range config {
		configCopy[k] = v
	}

	return configCopy, nil
}

// GetAvailableProviders returns all providers configured for a tenant
func (c *ProviderConfig) GetAvailableProviders(tenantID int) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	prefix := fmt.Sprintf("%d_", tenantID)
	providers := make([]string, 0)
	for key := range c.configs {
		if strings.HasPrefix(key, prefix) {
			providers = append(providers, strings.TrimPrefix(key, prefix))
		}
	}
	return providers
}

// GetStats returns configuration and storage statistics
func (c *ProviderConfig) GetStats() (map[string]any, error) {
	stats := make(map[string]any)

	c.mu.RLock()
	memoryConfigs := len(c.configs)
	c.mu.RUnlock()

	stats["memory_configs"] = memoryConfigs

	if c.storage != nil {
		storageStats, err := c.storage.GetStats()
		if err != nil {
			stats["storage_error"] = err.Error()
		} else {
			stats["storage"] = storageStats
		}
	} else {
		stats["storage"] = "not_available"
	}

	return stats, nil
}

// DeleteTenantConfig deletes a tenant configuration
func (c *ProviderConfig) DeleteTenantConfig(tenantID int, providerName string) error {
	if tenantID <= 0 {
		return fmt.Errorf("tenant ID must be positive")
	}
	if providerName == "" {
		return fmt.Errorf("provider name cannot be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.storage != nil {
		if err := c.storage.DeleteTenantConfig(tenantID, providerName); err != nil {
			return fmt.Errorf("failed to delete config: %w", err)
		}
	}

	delete(c.configs, tenantKey(tenantID, providerName))
	return nil
}
