package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const maxBusyRetries = 3

// SQLiteStorage persists tenant provider configurations in a SQLite file
// shared with the payment audit log.
type SQLiteStorage struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// NewSQLiteStorage opens the database in WAL mode so multiple processes can
// share the file, and creates the schema when missing.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_timeout=20000&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	storage := &SQLiteStorage{db: db, path: dbPath}

	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	storage.applyPragmas()

	return storage, nil
}

// DB exposes the underlying connection for components that share the database file.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStorage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tenant_configs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id INTEGER NOT NULL,
		provider_name TEXT NOT NULL,
		config_data TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(tenant_id, provider_name)
	);

	CREATE INDEX IF NOT EXISTS idx_tenant_provider ON tenant_configs(tenant_id, provider_name);

	CREATE TRIGGER IF NOT EXISTS update_tenant_configs_updated_at
		AFTER UPDATE ON tenant_configs
	BEGIN
		UPDATE tenant_configs SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
	END;
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStorage) applyPragmas() {
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA cache_size = 1000;",
		"PRAGMA busy_timeout = 30000;",
		"PRAGMA temp_store = memory;",
		"PRAGMA mmap_size = 268435456;",
		"PRAGMA optimize;",
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			log.Printf("Warning: Failed to execute %s: %v", pragma, err)
		}
	}
}

func isBusy(err error) bool {
	return strings.Contains(err.Error(), "SQLITE_BUSY") ||
		strings.Contains(err.Error(), "database is locked")
}

// retry re-runs op with exponential backoff while the database is locked by
// another writer.
func (s *SQLiteStorage) retry(op func() error) error {
	var lastErr error

	for attempt := 0; attempt <= maxBusyRetries; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}

		lastErr = err
		if attempt < maxBusyRetries {
			backoff := time.Duration(10*(1<<attempt)) * time.Millisecond
			log.Printf("SQLite busy, retrying in %v (attempt %d/%d)", backoff, attempt+1, maxBusyRetries+1)
			time.Sleep(backoff)
		}
	}

	return fmt.Errorf("operation failed after %d retries, last error: %w", maxBusyRetries+1, lastErr)
}

// SaveTenantConfig inserts or replaces a tenant's provider configuration.
func (s *SQLiteStorage) SaveTenantConfig(tenantID int, providerName string, config map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return s.retry(func() error {
		_, err := s.db.Exec(`
			INSERT INTO tenant_configs (tenant_id, provider_name, config_data, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(tenant_id, provider_name)
			DO UPDATE SET config_data = excluded.config_data, updated_at = CURRENT_TIMESTAMP`,
			tenantID, providerName, string(configJSON))
		if err != nil {
			return fmt.Errorf("failed to save tenant config: %w", err)
		}
		return nil
	})
}

// LoadTenantConfig loads one tenant's configuration for a provider.
func (s *SQLiteStorage) LoadTenantConfig(tenantID int, providerName string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var config map[string]string
	err := s.retry(func() error {
		var configJSON string
		err := s.db.QueryRow(
			`SELECT config_data FROM tenant_configs WHERE tenant_id = ? AND provider_name = ?`,
			tenantID, providerName).Scan(&configJSON)
		if err == sql.ErrNoRows {
			return fmt.Errorf("no configuration found for tenant: %d, provider: %s", tenantID, providerName)
		}
		if err != nil {
			return fmt.Errorf("failed to load tenant config: %w", err)
		}

		if err := json.Unmarshal([]byte(configJSON), &config); err != nil {
			return fmt.Errorf("failed to unmarshal config: %w", err)
		}
		return nil
	})

	return config, err
}

// LoadAllTenantConfigs loads every stored configuration keyed by tenant and
// provider, used to warm the in-memory map at startup.
func (s *SQLiteStorage) LoadAllTenantConfigs() (map[string]map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var configs map[string]map[string]string
	err := s.retry(func() error {
		rows, err := s.db.Query(
			`SELECT tenant_id, provider_name, config_data FROM tenant_configs ORDER BY tenant_id, provider_name`)
		if err != nil {
			return fmt.Errorf("failed to query tenant configs: %w", err)
		}
		defer rows.Close()

		configs = make(map[string]map[string]string)

		for rows.Next() {
			var tenantID int
			var providerName, configJSON string
			if err := rows.Scan(&tenantID, &providerName, &configJSON); err != nil {
				return fmt.Errorf("failed to scan row: %w", err)
			}

			var config map[string]string
			if err := json.Unmarshal([]byte(configJSON), &config); err != nil {
				log.Printf("Warning: failed to unmarshal config for tenant %d, provider %s: %v", tenantID, providerName, err)
				continue
			}

			configs[tenantKey(tenantID, providerName)] = config
		}

		if err = rows.Err(); err != nil {
			return fmt.Errorf("error iterating rows: %w", err)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}
	return configs, nil
}

// DeleteTenantConfig removes a tenant's provider configuration. Deleting a
// missing row is an error so callers can distinguish it from success.
func (s *SQLiteStorage) DeleteTenantConfig(tenantID int, providerName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retry(func() error {
		result, err := s.db.Exec(
			`DELETE FROM tenant_configs WHERE tenant_id = ? AND provider_name = ?`,
			tenantID, providerName)
		if err != nil {
			return fmt.Errorf("failed to delete tenant config: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return fmt.Errorf("no configuration found for tenant: %d, provider: %s", tenantID, providerName)
		}
		return nil
	})
}

// GetTenantsByProvider returns the tenant IDs configured for one provider.
func (s *SQLiteStorage) GetTenantsByProvider(providerName string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT DISTINCT tenant_id FROM tenant_configs WHERE provider_name = ? ORDER BY tenant_id`,
		providerName)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants by provider: %w", err)
	}
	defer rows.Close()

	var tenants []int
	for rows.Next() {
		var tenantID int
		if err := rows.Scan(&tenantID); err != nil {
			return nil, fmt.Errorf("failed to scan tenant ID: %w", err)
		}
		tenants = append(tenants, tenantID)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenant rows: %w", err)
	}

	return tenants, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetStats returns row counts and file size for the stats endpoint.
func (s *SQLiteStorage) GetStats() (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make(map[string]any)

	counters := []struct {
		key   string
		query string
	}{
		{"total_configs", "SELECT COUNT(*) FROM tenant_configs"},
		{"unique_tenants", "SELECT COUNT(DISTINCT tenant_id) FROM tenant_configs"},
		{"unique_providers", "SELECT COUNT(DISTINCT provider_name) FROM tenant_configs"},
	}

	for _, c := range counters {
		var count int
		if err := s.db.QueryRow(c.query).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c.key, err)
		}
		stats[c.key] = count
	}

	if fileInfo, err := os.Stat(s.path); err == nil {
		stats["db_size_bytes"] = fileInfo.Size()
	}
	stats["db_path"] = s.path

	return stats, nil
}
