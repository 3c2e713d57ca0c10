// Package credentials keeps rendering provider API keys in the database so
// operators can rotate them without redeploying.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"videoswap/internal/infra"
	"videoswap/internal/sqlinline"
)

const (
	ProviderRender = "render"
)

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Migrate creates the token table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.sql.Exec(ctx, sqlinline.QEnsureIntegrationTokensSchema)
	return err
}

// RenderAPIKey returns the stored provider key, or "" when none is stored.
func (s *Store) RenderAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderRender)
}

func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// SetRenderAPIKey stores key, recording who rotated it.
func (s *Store) SetRenderAPIKey(ctx context.Context, key, rotatedBy string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("render api key is required")
	}
	var props map[string]any
	if rotatedBy = strings.TrimSpace(rotatedBy); rotatedBy != "" {
		props = map[string]any{"rotated_by": rotatedBy}
	}
	return s.upsert(ctx, ProviderRender, key, props)
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}

// ResolveRenderAPIKey prefers the configured key and falls back to the store.
func ResolveRenderAPIKey(ctx context.Context, configured string, store *Store) (string, error) {
	if key := strings.TrimSpace(configured); key != "" || store == nil {
		return key, nil
	}
	return store.RenderAPIKey(ctx)
}
