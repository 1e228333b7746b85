package store

import (
	"context"
	"fmt"

	"github.com/seantiz/scribe/internal/model"
)

// CreateApiKey inserts a key and fills in its generated id.
func (q queries) CreateApiKey(ctx context.Context, k *model.ApiKey) error {
	err := q.queryRow(ctx,
		`INSERT INTO api_keys (api_key, owner, permission, suspended)
		VALUES (?, ?, ?, ?) RETURNING id`,
		k.Key, k.Owner, int(k.Permission), k.Suspended,
	).Scan(&k.ID)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetApiKeyByKey looks up a key by its secret string.
func (q queries) GetApiKeyByKey(ctx context.Context, key string) (*model.ApiKey, error) {
	k := &model.ApiKey{}
	var perm int
	err := q.queryRow(ctx,
		`SELECT id, api_key, owner, permission, suspended FROM api_keys WHERE api_key = ?`, key,
	).Scan(&k.ID, &k.Key, &k.Owner, &perm, &k.Suspended)
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	k.Permission = model.Permission(perm)
	return k, nil
}

// SetSuspension toggles the suspension flag of a key.
func (q queries) SetSuspension(ctx context.Context, id int64, suspended bool) error {
	res, err := q.exec(ctx, `UPDATE api_keys SET suspended = ? WHERE id = ?`, suspended, id)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateEngine inserts an engine and fills in its generated id.
func (q queries) CreateEngine(ctx context.Context, e *model.Engine) error {
	err := q.queryRow(ctx,
		`INSERT INTO engines (name, description) VALUES (?, ?) RETURNING id`,
		e.Name, e.Description,
	).Scan(&e.ID)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert engine: %w", err)
	}
	return nil
}

// GetEngine retrieves an engine by id.
func (q queries) GetEngine(ctx context.Context, id int64) (*model.Engine, error) {
	e := &model.Engine{}
	err := q.queryRow(ctx,
		`SELECT id, name, description FROM engines WHERE id = ?`, id,
	).Scan(&e.ID, &e.Name, &e.Description)
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get engine: %w", err)
	}
	return e, nil
}

// GetEngineByName retrieves an engine by its unique name.
func (q queries) GetEngineByName(ctx context.Context, name string) (*model.Engine, error) {
	e := &model.Engine{}
	err := q.queryRow(ctx,
		`SELECT id, name, description FROM engines WHERE name = ?`, name,
	).Scan(&e.ID, &e.Name, &e.Description)
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get engine: %w", err)
	}
	return e, nil
}

// ListEngines returns every engine ordered by id.
func (q queries) ListEngines(ctx context.Context) ([]*model.Engine, error) {
	rows, err := q.query(ctx, `SELECT id, name, description FROM engines ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list engines: %w", err)
	}
	defer rows.Close()

	var engines []*model.Engine
	for rows.Next() {
		e := &model.Engine{}
		if err := rows.Scan(&e.ID, &e.Name, &e.Description); err != nil {
			return nil, fmt.Errorf("scan engine: %w", err)
		}
		engines = append(engines, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate engines: %w", err)
	}
	return engines, nil
}

// CreateModel inserts a model and fills in its generated id.
func (q queries) CreateModel(ctx context.Context, m *model.Model) error {
	err := q.queryRow(ctx,
		`INSERT INTO models (name, config) VALUES (?, ?) RETURNING id`,
		m.Name, m.Config,
	).Scan(&m.ID)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert model: %w", err)
	}
	return nil
}

// GetModelByName retrieves a model by its unique name.
func (q queries) GetModelByName(ctx context.Context, name string) (*model.Model, error) {
	m := &model.Model{}
	err := q.queryRow(ctx,
		`SELECT id, name, config FROM models WHERE name = ?`, name,
	).Scan(&m.ID, &m.Name, &m.Config)
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get model: %w", err)
	}
	return m, nil
}

// CreateEngineVersion inserts a version and associates modelIDs with it in the
// given order.
func (q queries) CreateEngineVersion(ctx context.Context, v *model.EngineVersion, modelIDs []int64) error {
	err := q.queryRow(ctx,
		`INSERT INTO engine_versions (engine_id, version, description, created_at)
		VALUES (?, ?, ?, ?) RETURNING id`,
		v.EngineID, v.Version, v.Description, v.CreatedAt,
	).Scan(&v.ID)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert engine version: %w", err)
	}

	for i, modelID := range modelIDs {
		if _, err := q.exec(ctx,
			`INSERT INTO engine_version_models (engine_version_id, model_id, position)
			VALUES (?, ?, ?)`,
			v.ID, modelID, i,
		); err != nil {
			return fmt.Errorf("associate model %d: %w", modelID, err)
		}
	}
	return nil
}

const engineVersionColumns = `id, engine_id, version, description, created_at`

func scanEngineVersion(row interface{ Scan(...any) error }) (*model.EngineVersion, error) {
	v := &model.EngineVersion{}
	err := row.Scan(&v.ID, &v.EngineID, &v.Version, &v.Description, &v.CreatedAt)
	return v, err
}

// GetEngineVersionByLabel resolves a version label within one engine.
func (q queries) GetEngineVersionByLabel(ctx context.Context, engineID int64, version string) (*model.EngineVersion, error) {
	v, err := scanEngineVersion(q.queryRow(ctx,
		`SELECT `+engineVersionColumns+` FROM engine_versions
		WHERE engine_id = ? AND version = ?`, engineID, version,
	))
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get engine version: %w", err)
	}
	return v, nil
}

// LatestEngineVersion returns the most recently created version of an engine.
func (q queries) LatestEngineVersion(ctx context.Context, engineID int64) (*model.EngineVersion, error) {
	v, err := scanEngineVersion(q.queryRow(ctx,
		`SELECT `+engineVersionColumns+` FROM engine_versions
		WHERE engine_id = ? ORDER BY id DESC LIMIT 1`, engineID,
	))
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest engine version: %w", err)
	}
	return v, nil
}

// ListVersionModels returns the models of a version in association order.
func (q queries) ListVersionModels(ctx context.Context, versionID int64) ([]*model.Model, error) {
	rows, err := q.query(ctx,
		`SELECT m.id, m.name, m.config
		FROM engine_version_models evm JOIN models m ON m.id = evm.model_id
		WHERE evm.engine_version_id = ? ORDER BY evm.position`, versionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list version models: %w", err)
	}
	defer rows.Close()

	var models []*model.Model
	for rows.Next() {
		m := &model.Model{}
		if err := rows.Scan(&m.ID, &m.Name, &m.Config); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		models = append(models, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate models: %w", err)
	}
	return models, nil
}
