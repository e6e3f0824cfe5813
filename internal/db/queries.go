package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"assetrules/internal/editor"
	"assetrules/internal/models"
)

// ErrNotFound is returned when a ruleset does not exist in the caller's realm.
var ErrNotFound = errors.New("ruleset not found")

const rulesetColumns = "id, type, name, enabled, rules, lang, meta, status, error, realm, asset_id, created_on, last_modified"

func scanRuleset(row pgx.Row) (models.Ruleset, error) {
	var rs models.Ruleset
	err := row.Scan(&rs.ID, &rs.Type, &rs.Name, &rs.Enabled, &rs.Rules, &rs.Lang,
		&rs.Meta, &rs.Status, &rs.Error, &rs.Realm, &rs.AssetID, &rs.CreatedOn, &rs.LastModified)
	return rs, err
}

// CreateRuleset inserts a new ruleset in the caller's realm and returns the
// assigned id.
func (d *DB) CreateRuleset(ctx context.Context, rc models.RealmContext, rs models.Ruleset) (int64, error) {
	var id int64
	err := d.pool.QueryRow(ctx,
		`INSERT INTO rulesets (type, name, enabled, rules, lang, meta, status, error, realm, asset_id, created_on, last_modified)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW()) RETURNING id`,
		rs.Type, rs.Name, rs.Enabled, rs.Rules, rs.Lang, rs.Meta, models.StatusReady, "", rc.Realm, rs.AssetID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create ruleset: %w", err)
	}
	return id, nil
}

// UpdateRuleset overwrites an existing ruleset. The realm predicate keeps a
// caller from touching rulesets outside their realm.
func (d *DB) UpdateRuleset(ctx context.Context, rc models.RealmContext, id int64, rs models.Ruleset) error {
	tag, err := d.pool.Exec(ctx,
		`UPDATE rulesets SET type=$1, name=$2, enabled=$3, rules=$4, lang=$5, meta=$6, asset_id=$7, last_modified=NOW()
		 WHERE id=$8 AND realm=$9`,
		rs.Type, rs.Name, rs.Enabled, rs.Rules, rs.Lang, rs.Meta, rs.AssetID, id, rc.Realm)
	if err != nil {
		return fmt.Errorf("update ruleset %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRuleset removes a ruleset within the caller's realm.
func (d *DB) DeleteRuleset(ctx context.Context, rc models.RealmContext, id int64) error {
	tag, err := d.pool.Exec(ctx, "DELETE FROM rulesets WHERE id=$1 AND realm=$2", id, rc.Realm)
	if err != nil {
		return fmt.Errorf("delete ruleset %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRuleset fetches a single ruleset within the caller's realm.
func (d *DB) GetRuleset(ctx context.Context, rc models.RealmContext, id int64) (*models.Ruleset, error) {
	rs, err := scanRuleset(d.pool.QueryRow(ctx,
		"SELECT "+rulesetColumns+" FROM rulesets WHERE id=$1 AND realm=$2", id, rc.Realm))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rs, nil
}

// ListRulesets lists rulesets of one scope within the caller's realm,
// narrowed by the filter.
func (d *DB) ListRulesets(ctx context.Context, rc models.RealmContext, scope models.RulesetScope, filter editor.ListFilter) ([]models.Ruleset, error) {
	query := "SELECT " + rulesetColumns + " FROM rulesets WHERE realm=$1 AND type=$2"
	args := []any{rc.Realm, scope}
	if filter.AssetID != "" {
		args = append(args, filter.AssetID)
		query += fmt.Sprintf(" AND asset_id=$%d", len(args))
	}
	if filter.Lang != "" {
		args = append(args, filter.Lang)
		query += fmt.Sprintf(" AND lang=$%d", len(args))
	}
	if filter.EnabledOnly {
		query += " AND enabled"
	}
	query += " ORDER BY id"

	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rulesets: %w", err)
	}
	defer rows.Close()

	rulesets := []models.Ruleset{}
	for rows.Next() {
		rs, err := scanRuleset(rows)
		if err != nil {
			return nil, err
		}
		rulesets = append(rulesets, rs)
	}
	return rulesets, rows.Err()
}

// EnabledJSONRulesets returns every enabled JSON-language ruleset across all
// realms. The engine uses it to rebuild associations and schedules.
func (d *DB) EnabledJSONRulesets(ctx context.Context) ([]models.Ruleset, error) {
	rows, err := d.pool.Query(ctx,
		"SELECT "+rulesetColumns+" FROM rulesets WHERE enabled AND lang=$1 ORDER BY id", models.LangJSON)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rulesets []models.Ruleset
	for rows.Next() {
		rs, err := scanRuleset(rows)
		if err != nil {
			return nil, err
		}
		rulesets = append(rulesets, rs)
	}
	return rulesets, rows.Err()
}

// RulesetByID fetches a ruleset regardless of realm. Engine-internal; API
// handlers go through GetRuleset.
func (d *DB) RulesetByID(ctx context.Context, id int64) (*models.Ruleset, error) {
	rs, err := scanRuleset(d.pool.QueryRow(ctx,
		"SELECT "+rulesetColumns+" FROM rulesets WHERE id=$1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rs, nil
}

// SetRulesetStatus records the engine-side deployment status and error text.
func (d *DB) SetRulesetStatus(ctx context.Context, id int64, status models.RulesetStatus, errText string) error {
	_, err := d.pool.Exec(ctx,
		"UPDATE rulesets SET status=$1, error=$2 WHERE id=$3", status, errText, id)
	return err
}

// GetAsset fetches an asset with its attribute snapshot.
func (d *DB) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	var a models.Asset
	err := d.pool.QueryRow(ctx,
		"SELECT id, name, type, realm, attributes FROM assets WHERE id=$1", id).
		Scan(&a.ID, &a.Name, &a.Type, &a.Realm, &a.Attributes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateAssetAttributes persists the latest attribute snapshot of an asset.
func (d *DB) UpdateAssetAttributes(ctx context.Context, id string, attributes map[string]json.RawMessage) error {
	_, err := d.pool.Exec(ctx, "UPDATE assets SET attributes=$1 WHERE id=$2", attributes, id)
	return err
}

// QueryAssets resolves an asset query's id/type/realm filters to concrete
// assets. Name and attribute predicates are applied in memory by the caller.
func (d *DB) QueryAssets(ctx context.Context, realm string, ids, types []string) ([]models.Asset, error) {
	query := "SELECT id, name, type, realm, attributes FROM assets WHERE realm=$1"
	args := []any{realm}
	if len(ids) > 0 {
		args = append(args, ids)
		query += fmt.Sprintf(" AND id = ANY($%d)", len(args))
	}
	if len(types) > 0 {
		args = append(args, types)
		query += fmt.Sprintf(" AND type = ANY($%d)", len(args))
	}

	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []models.Asset
	for rows.Next() {
		var a models.Asset
		if err := rows.Scan(&a.ID, &a.Name, &a.Type, &a.Realm, &a.Attributes); err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}
