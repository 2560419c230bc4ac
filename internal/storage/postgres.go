package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/planbridge/planbridge/internal/config"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgres connects a pool sized from configuration and verifies the
// connection before returning.
func NewPostgres(ctx context.Context, cfg *config.DatabaseConfig, logger zerolog.Logger) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("storage: parse database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.GetMaxConns())
	poolCfg.MaxConnLifetime = cfg.GetConnLifetime()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}

	logger.Info().
		Int("max_conns", cfg.GetMaxConns()).
		Dur("conn_lifetime", cfg.GetConnLifetime()).
		Msg("database pool ready")

	return &Postgres{pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

const lookupForAuthSQL = `
SELECT ak.id, ak.user_id, ak.key_hash, ak.key_prefix, ak.status,
       ak.bedrock_region, ak.bedrock_model,
       ak.created_at, ak.revoked_at, ak.rotation_expires_at,
       u.status,
       EXISTS (SELECT 1 FROM bedrock_keys bk WHERE bk.access_key_id = ak.id)
FROM access_keys ak
JOIN users u ON u.id = ak.user_id
WHERE ak.key_hash = $1
  AND ak.status = 'active'
  AND (ak.rotation_expires_at IS NULL OR ak.rotation_expires_at > now())
  AND u.status <> 'deleted'`

// LookupForAuth implements AccessKeyStore.
func (p *Postgres) LookupForAuth(ctx context.Context, keyHash string) (*AuthLookup, error) {
	var out AuthLookup
	err := p.pool.QueryRow(ctx, lookupForAuthSQL, keyHash).Scan(
		&out.Key.ID,
		&out.Key.UserID,
		&out.Key.KeyHash,
		&out.Key.KeyPrefix,
		&out.Key.Status,
		&out.Key.BedrockRegion,
		&out.Key.BedrockModel,
		&out.Key.CreatedAt,
		&out.Key.RevokedAt,
		&out.Key.RotationExpiresAt,
		&out.UserStatus,
		&out.HasBedrockKey,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: lookup access key: %w", err)
	}
	return &out, nil
}

const getBedrockKeySQL = `
SELECT access_key_id, encrypted_key, key_hash, created_at, rotated_at
FROM bedrock_keys
WHERE access_key_id = $1`

// GetBedrockKey implements BedrockKeyStore.
func (p *Postgres) GetBedrockKey(ctx context.Context, accessKeyID uuid.UUID) (*BedrockKey, error) {
	var out BedrockKey
	err := p.pool.QueryRow(ctx, getBedrockKeySQL, accessKeyID).Scan(
		&out.AccessKeyID,
		&out.EncryptedKey,
		&out.KeyHash,
		&out.CreatedAt,
		&out.RotatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get bedrock key: %w", err)
	}
	return &out, nil
}

const insertUsageSQL = `
INSERT INTO token_usage (
    id, request_id, timestamp, user_id, access_key_id, model,
    input_tokens, output_tokens, cache_read_input_tokens,
    cache_creation_input_tokens, total_tokens, provider, is_fallback, latency_ms
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

const upsertAggregateSQL = `
INSERT INTO usage_aggregates (
    id, bucket_type, bucket_start, user_id, access_key_id,
    total_requests, total_input_tokens, total_output_tokens, total_tokens
) VALUES ($1,$2,$3,$4,$5,1,$6,$7,$8)
ON CONFLICT (bucket_type, bucket_start, user_id, access_key_id)
DO UPDATE SET
    total_requests      = usage_aggregates.total_requests + 1,
    total_input_tokens  = usage_aggregates.total_input_tokens + EXCLUDED.total_input_tokens,
    total_output_tokens = usage_aggregates.total_output_tokens + EXCLUDED.total_output_tokens,
    total_tokens        = usage_aggregates.total_tokens + EXCLUDED.total_tokens`

// RecordUsage implements UsageStore. The row insert and every bucket upsert
// commit together or not at all.
func (p *Postgres) RecordUsage(ctx context.Context, row *TokenUsage, buckets []Bucket) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin usage tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, insertUsageSQL,
		row.ID, row.RequestID, row.Timestamp, row.UserID, row.AccessKeyID, row.Model,
		row.InputTokens, row.OutputTokens, row.CacheReadInputTokens,
		row.CacheCreationInputTokens, row.TotalTokens, row.Provider, row.IsFallback, row.LatencyMS,
	)
	if err != nil {
		return fmt.Errorf("storage: insert usage row: %w", err)
	}

	for _, b := range buckets {
		_, err = tx.Exec(ctx, upsertAggregateSQL,
			uuid.New(), b.Type, b.Start, row.UserID, row.AccessKeyID,
			row.InputTokens, row.OutputTokens, row.TotalTokens,
		)
		if err != nil {
			return fmt.Errorf("storage: upsert %s aggregate: %w", b.Type, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit usage tx: %w", err)
	}
	return nil
}
