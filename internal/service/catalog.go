package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/scribe/internal/config"
	"github.com/seantiz/scribe/internal/model"
	"github.com/seantiz/scribe/internal/store"
)

// ApplyCatalog creates the keys, models, engines and versions declared in c
// that do not exist yet, in one unit of work. Existing entries are left as
// they are, so applying the same catalog twice changes nothing.
func ApplyCatalog(ctx context.Context, s store.Store, c *config.Catalog, logger *slog.Logger) error {
	return s.InTx(ctx, func(q store.Queries) error {
		for _, k := range c.ApiKeys {
			if err := applyKey(ctx, q, k, logger); err != nil {
				return err
			}
		}

		models := make(map[string]int64, len(c.Models))
		for _, m := range c.Models {
			id, err := applyModel(ctx, q, m, logger)
			if err != nil {
				return err
			}
			models[m.Name] = id
		}

		for _, e := range c.Engines {
			if err := applyEngine(ctx, q, e, models, logger); err != nil {
				return err
			}
		}
		return nil
	})
}

func applyKey(ctx context.Context, q store.Queries, k config.CatalogKey, logger *slog.Logger) error {
	_, err := q.GetApiKeyByKey(ctx, k.Key)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	perm := model.PermissionUser
	if k.Permission == model.PermissionSuperUser.String() {
		perm = model.PermissionSuperUser
	}
	key := &model.ApiKey{Key: k.Key, Owner: k.Owner, Permission: perm, Suspended: k.Suspended}
	if err := q.CreateApiKey(ctx, key); err != nil {
		return fmt.Errorf("create api key for %s: %w", k.Owner, err)
	}
	logger.Info("api key created", "owner", k.Owner, "permission", perm)
	return nil
}

func applyModel(ctx context.Context, q store.Queries, m config.CatalogModel, logger *slog.Logger) (int64, error) {
	existing, err := q.GetModelByName(ctx, m.Name)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return 0, err
	}

	created := &model.Model{Name: m.Name, Config: m.Config}
	if err := q.CreateModel(ctx, created); err != nil {
		return 0, fmt.Errorf("create model %s: %w", m.Name, err)
	}
	logger.Info("model created", "model", m.Name)
	return created.ID, nil
}

func applyEngine(ctx context.Context, q store.Queries, e config.CatalogEngine, models map[string]int64, logger *slog.Logger) error {
	engine, err := q.GetEngineByName(ctx, e.Name)
	if errors.Is(err, store.ErrNotFound) {
		engine = &model.Engine{Name: e.Name, Description: e.Description}
		if err := q.CreateEngine(ctx, engine); err != nil {
			return fmt.Errorf("create engine %s: %w", e.Name, err)
		}
		logger.Info("engine created", "engine", e.Name)
	} else if err != nil {
		return err
	}

	for _, v := range e.Versions {
		_, err := q.GetEngineVersionByLabel(ctx, engine.ID, v.Version)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		ids := make([]int64, 0, len(v.Models))
		for _, name := range v.Models {
			id, ok := models[name]
			if !ok {
				return fmt.Errorf("engine %s version %s: unknown model %q", e.Name, v.Version, name)
			}
			ids = append(ids, id)
		}
		version := &model.EngineVersion{
			EngineID:    engine.ID,
			Version:     v.Version,
			Description: v.Description,
			CreatedAt:   time.Now().UTC(),
		}
		if err := q.CreateEngineVersion(ctx, version, ids); err != nil {
			return fmt.Errorf("create engine %s version %s: %w", e.Name, v.Version, err)
		}
		logger.Info("engine version created", "engine", e.Name, "version", v.Version, "models", v.Models)
	}
	return nil
}
