package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"assetvault/internal/models"
)

// PostgresConfig describes how the repository initialises its Postgres
// connection pool.
type PostgresConfig struct {
	DSN             string
	MaxConnections  int32
	MinConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	AcquireTimeout  time.Duration
	ApplicationName string
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository opens a Postgres-backed repository and ensures the
// assets table exists.
func NewPostgresRepository(cfg PostgresConfig) (Repository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	repo := &postgresRepository{pool: pool}
	if err := repo.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

const assetsSchema = `
CREATE TABLE IF NOT EXISTS assets (
    id          TEXT PRIMARY KEY,
    title       TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    blob_url    TEXT NOT NULL,
    blob_key    TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ
)
`

func (r *postgresRepository) ensureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, assetsSchema); err != nil {
		return fmt.Errorf("ensure assets table: %w", err)
	}
	return nil
}

// Close releases the connection pool, bounded by the provided context.
func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool not configured")
	}
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) CreateAsset(ctx context.Context, asset models.Asset) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO assets (id, title, description, blob_url, blob_key, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, asset.ID, asset.Title, asset.Description, asset.BlobURL, asset.BlobKey, asset.CreatedAt.UTC(), timestampOrNil(asset.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert asset %s: %w", asset.ID, err)
	}
	return nil
}

func (r *postgresRepository) GetAsset(ctx context.Context, id string) (models.Asset, error) {
	row := r.pool.QueryRow(ctx, `
SELECT id, title, description, blob_url, blob_key, created_at, updated_at
FROM assets
WHERE id = $1
`, id)
	asset, err := scanAsset(row)
	if err != nil {
		if isNoRows(err) {
			return models.Asset{}, ErrNotFound
		}
		return models.Asset{}, fmt.Errorf("read asset %s: %w", id, err)
	}
	return asset, nil
}

func (r *postgresRepository) ListAssets(ctx context.Context) ([]models.Asset, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, title, description, blob_url, blob_key, created_at, updated_at
FROM assets
`)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()
	assets := make([]models.Asset, 0)
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return assets, nil
}

func (r *postgresRepository) ReplaceAsset(ctx context.Context, asset models.Asset) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE assets
SET title = $2, description = $3, blob_url = $4, blob_key = $5, updated_at = $6
WHERE id = $1
`, asset.ID, asset.Title, asset.Description, asset.BlobURL, asset.BlobKey, timestampOrNil(asset.UpdatedAt))
	if err != nil {
		return fmt.Errorf("replace asset %s: %w", asset.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postgresRepository) DeleteAsset(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM assets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete asset %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (models.Asset, error) {
	var (
		asset     models.Asset
		updatedAt *time.Time
	)
	if err := row.Scan(&asset.ID, &asset.Title, &asset.Description, &asset.BlobURL, &asset.BlobKey, &asset.CreatedAt, &updatedAt); err != nil {
		return models.Asset{}, err
	}
	asset.CreatedAt = asset.CreatedAt.UTC()
	if updatedAt != nil {
		utc := updatedAt.UTC()
		asset.UpdatedAt = &utc
	}
	return asset, nil
}

func timestampOrNil(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC()
}

func isNoRows(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, pgx.ErrNoRows)
}

var _ Repository = (*postgresRepository)(nil)
