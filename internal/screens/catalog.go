package screens

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/stlehmann/qthmi.ads/internal/types"
)

var ErrNoStore = errors.New("no screen store configured")

// Sources reported in summaries.
const (
	SourceFile     = "file"
	SourceDatabase = "database"
)

// Store persists screen definitions. Get returns an error matching
// types.ErrNotFound for unknown ids.
type Store interface {
	GetScreen(ctx context.Context, id string) (*types.ScreenDefinition, error)
	ListScreens(ctx context.Context) ([]*types.ScreenDefinition, error)
	SaveScreen(ctx context.Context, def *types.ScreenDefinition) error
}

// Catalog resolves screens from the store first and falls back to files.
type Catalog struct {
	loader *Loader
	store  Store
	logger *zap.Logger
}

// NewCatalog creates a catalog. store may be nil.
func NewCatalog(loader *Loader, store Store, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{loader: loader, store: store, logger: logger}
}

func (c *Catalog) Get(ctx context.Context, id string) (*types.ScreenDefinition, string, error) {
	if c.store != nil {
		def, err := c.store.GetScreen(ctx, id)
		switch {
		case err == nil:
			return def, SourceDatabase, nil
		case !errors.Is(err, types.ErrNotFound):
			return nil, "", fmt.Errorf("failed to load screen %s from store: %w", id, err)
		}
	}

	def, err := c.loader.Load(id)
	if err != nil {
		return nil, "", err
	}
	return def, SourceFile, nil
}

// List returns summaries of all screens, store entries shadowing files with
// the same id.
func (c *Catalog) List(ctx context.Context) ([]types.ScreenSummary, error) {
	byID := make(map[string]types.ScreenSummary)

	ids, err := c.loader.List()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		def, err := c.loader.Load(id)
		if err != nil {
			c.logger.Warn("Skipping invalid screen file",
				zap.String("screen", id),
				zap.Error(err))
			continue
		}
		byID[id] = def.Summary(SourceFile)
	}

	if c.store != nil {
		defs, err := c.store.ListScreens(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list stored screens: %w", err)
		}
		for _, def := range defs {
			byID[def.Screen.ID] = def.Summary(SourceDatabase)
		}
	}

	out := make([]types.ScreenSummary, 0, len(byID))
	for _, s := range byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Save validates def and writes it to the store.
func (c *Catalog) Save(ctx context.Context, def *types.ScreenDefinition) error {
	if c.store == nil {
		return ErrNoStore
	}
	if err := c.loader.Validator().ValidateDefinition(def); err != nil {
		return err
	}
	if err := c.store.SaveScreen(ctx, def); err != nil {
		return fmt.Errorf("failed to save screen %s: %w", def.Screen.ID, err)
	}

	c.logger.Info("Screen saved", zap.String("screen", def.Screen.ID))
	return nil
}
