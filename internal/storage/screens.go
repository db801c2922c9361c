package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stlehmann/qthmi.ads/internal/types"
)

// GetScreen loads a stored screen by its screen id.
func (p *PostgresClient) GetScreen(ctx context.Context, id string) (*types.ScreenDefinition, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `
		SELECT definition FROM screens WHERE screen_id = $1
	`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("screen %s: %w", id, types.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get screen: %w", err)
	}

	var def types.ScreenDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal screen %s: %w", id, err)
	}
	return &def, nil
}

func (p *PostgresClient) ListScreens(ctx context.Context) ([]*types.ScreenDefinition, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT screen_id, definition FROM screens ORDER BY screen_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list screens: %w", err)
	}
	defer rows.Close()

	var defs []*types.ScreenDefinition
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan screen: %w", err)
		}
		var def types.ScreenDefinition
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to unmarshal screen %s: %w", id, err)
		}
		defs = append(defs, &def)
	}
	return defs, rows.Err()
}

// SaveScreen inserts or replaces the screen with the same screen id.
func (p *PostgresClient) SaveScreen(ctx context.Context, def *types.ScreenDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal screen: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO screens (screen_id, title, definition)
		VALUES ($1, $2, $3)
		ON CONFLICT (screen_id) DO UPDATE
		SET title = EXCLUDED.title, definition = EXCLUDED.definition, updated_at = NOW()
	`, def.Screen.ID, def.Screen.Title, data)
	if err != nil {
		return fmt.Errorf("failed to save screen: %w", err)
	}
	return nil
}

func (p *PostgresClient) DeleteScreen(ctx context.Context, id string) error {
	result, err := p.pool.Exec(ctx, `DELETE FROM screens WHERE screen_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete screen: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("screen %s: %w", id, types.ErrNotFound)
	}
	return nil
}

// ScreenRecord returns the row metadata of a stored screen.
func (p *PostgresClient) ScreenRecord(ctx context.Context, id string) (*Screen, error) {
	var s Screen
	err := p.pool.QueryRow(ctx, `
		SELECT id, screen_id, title, definition, created_at, updated_at
		FROM screens WHERE screen_id = $1
	`, id).Scan(&s.ID, &s.ScreenID, &s.Title, &s.Definition, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("screen %s: %w", id, types.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get screen: %w", err)
	}
	return &s, nil
}
