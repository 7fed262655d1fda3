package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lyzr/plugin-registry/cmd/registry/models"
	"github.com/lyzr/plugin-registry/common/db"
)

// PluginInfoRepository handles database operations for plugin records.
// Releases ride along as a JSONB document: the record is read and written
// as a whole, matching the service's read-modify-write model.
type PluginInfoRepository struct {
	db *db.DB
}

// NewPluginInfoRepository creates a new plugin info repository
func NewPluginInfoRepository(db *db.DB) *PluginInfoRepository {
	return &PluginInfoRepository{db: db}
}

// InitSchema creates the plugin_info table. Wired as a bootstrap DB init hook.
func InitSchema(database *db.DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS plugin_info (
			id          TEXT PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			provider    TEXT NOT NULL DEFAULT '',
			service     TEXT NOT NULL DEFAULT '',
			releases    JSONB NOT NULL DEFAULT '[]',
			created_ts  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_plugin_info_service ON plugin_info (service);
	`

	if _, err := database.Exec(context.Background(), query); err != nil {
		return fmt.Errorf("failed to create plugin_info schema: %w", err)
	}

	return nil
}

// All retrieves every plugin record, in repository order
func (r *PluginInfoRepository) All(ctx context.Context) ([]*models.PluginInfo, error) {
	query := `
		SELECT id, description, provider, service, releases, created_ts
		FROM plugin_info
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list plugins: %w", err)
	}
	defer rows.Close()

	return scanPlugins(rows)
}

// GetByService retrieves plugin records tagged with the given service
func (r *PluginInfoRepository) GetByService(ctx context.Context, service string) ([]*models.PluginInfo, error) {
	query := `
		SELECT id, description, provider, service, releases, created_ts
		FROM plugin_info
		WHERE service = $1
	`

	rows, err := r.db.Query(ctx, query, service)
	if err != nil {
		return nil, fmt.Errorf("failed to list plugins for service %s: %w", service, err)
	}
	defer rows.Close()

	return scanPlugins(rows)
}

// FindByID retrieves a plugin record by id.
// Returns a typed NotFoundError when the id is unknown.
func (r *PluginInfoRepository) FindByID(ctx context.Context, id string) (*models.PluginInfo, error) {
	query := `
		SELECT id, description, provider, service, releases, created_ts
		FROM plugin_info
		WHERE id = $1
	`

	pluginInfo := &models.PluginInfo{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&pluginInfo.ID,
		&pluginInfo.Description,
		&pluginInfo.Provider,
		&pluginInfo.Service,
		&pluginInfo.Releases,
		&pluginInfo.CreatedTimestamp,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.NewNotFoundError("plugin %s", id)
		}
		return nil, fmt.Errorf("failed to get plugin %s: %w", id, err)
	}

	return pluginInfo, nil
}

// Create inserts a new plugin record and returns it with the stamped
// creation timestamp
func (r *PluginInfoRepository) Create(ctx context.Context, id string, pluginInfo *models.PluginInfo) (*models.PluginInfo, error) {
	query := `
		INSERT INTO plugin_info (id, description, provider, service, releases)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_ts
	`

	if pluginInfo.Releases == nil {
		pluginInfo.Releases = []models.Release{}
	}

	err := r.db.QueryRow(ctx, query,
		id,
		pluginInfo.Description,
		pluginInfo.Provider,
		pluginInfo.Service,
		pluginInfo.Releases,
	).Scan(&pluginInfo.CreatedTimestamp)

	if err != nil {
		return nil, fmt.Errorf("failed to create plugin %s: %w", id, err)
	}

	return pluginInfo, nil
}

// Update replaces an existing plugin record
func (r *PluginInfoRepository) Update(ctx context.Context, id string, pluginInfo *models.PluginInfo) error {
	query := `
		UPDATE plugin_info
		SET description = $2, provider = $3, service = $4, releases = $5
		WHERE id = $1
	`

	if pluginInfo.Releases == nil {
		pluginInfo.Releases = []models.Release{}
	}

	result, err := r.db.Exec(ctx, query,
		id,
		pluginInfo.Description,
		pluginInfo.Provider,
		pluginInfo.Service,
		pluginInfo.Releases,
	)
	if err != nil {
		return fmt.Errorf("failed to update plugin %s: %w", id, err)
	}

	if result.RowsAffected() == 0 {
		return models.NewNotFoundError("plugin %s", id)
	}

	return nil
}

// Delete removes a plugin record. Deleting an unknown id is a no-op.
func (r *PluginInfoRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM plugin_info WHERE id = $1`

	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete plugin %s: %w", id, err)
	}

	return nil
}

// scanPlugins reads plugin rows into records
func scanPlugins(rows pgx.Rows) ([]*models.PluginInfo, error) {
	var plugins []*models.PluginInfo
	for rows.Next() {
		pluginInfo := &models.PluginInfo{}
		err := rows.Scan(
			&pluginInfo.ID,
			&pluginInfo.Description,
			&pluginInfo.Provider,
			&pluginInfo.Service,
			&pluginInfo.Releases,
			&pluginInfo.CreatedTimestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plugin: %w", err)
		}
		plugins = append(plugins, pluginInfo)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plugins: %w", err)
	}

	return plugins, nil
}
