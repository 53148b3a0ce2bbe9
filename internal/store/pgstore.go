package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/registerlabs/ledgerflow/model"
)

// PgInstanceStore is a PostgreSQL-backed InstanceStore using pgx/v5.
type PgInstanceStore struct {
	pool *pgxpool.Pool
}

// NewPgInstanceStore creates a new PostgreSQL instance store.
func NewPgInstanceStore(pool *pgxpool.Pool) *PgInstanceStore {
	return &PgInstanceStore{pool: pool}
}

// Get retrieves an instance by id.
func (s *PgInstanceStore) Get(ctx context.Context, instanceID string) (model.Instance, error) {
	var inst model.Instance
	var actionsJSON, walletsJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, blueprint_id, blueprint_version, register_id, tenant_id,
		       state, current_action_ids, participant_wallets, version,
		       created_at, updated_at
		FROM instances
		WHERE id = $1`,
		instanceID,
	).Scan(
		&inst.ID, &inst.BlueprintID, &inst.BlueprintVersion, &inst.RegisterID, &inst.TenantID,
		&inst.State, &actionsJSON, &walletsJSON, &inst.Version,
		&inst.CreatedAt, &inst.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return model.Instance{}, model.NewNotFoundError(
			fmt.Sprintf("instance %q not found", instanceID),
		)
	}
	if err != nil {
		return model.Instance{}, fmt.Errorf("query instance: %w", err)
	}

	if actionsJSON != nil {
		if err := json.Unmarshal(actionsJSON, &inst.CurrentActionIDs); err != nil {
			return model.Instance{}, fmt.Errorf("unmarshal current actions: %w", err)
		}
	}
	if walletsJSON != nil {
		if err := json.Unmarshal(walletsJSON, &inst.ParticipantWallets); err != nil {
			return model.Instance{}, fmt.Errorf("unmarshal participant wallets: %w", err)
		}
	}

	return inst, nil
}

// Create inserts a new instance.
func (s *PgInstanceStore) Create(ctx context.Context, inst model.Instance) error {
	actionsJSON, err := json.Marshal(inst.CurrentActionIDs)
	if err != nil {
		return fmt.Errorf("marshal current actions: %w", err)
	}
	walletsJSON, err := json.Marshal(inst.ParticipantWallets)
	if err != nil {
		return fmt.Errorf("marshal participant wallets: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO instances (
			id, blueprint_id, blueprint_version, register_id, tenant_id,
			state, current_action_ids, participant_wallets, version,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11
		)`,
		inst.ID, inst.BlueprintID, inst.BlueprintVersion, inst.RegisterID, inst.TenantID,
		inst.State, actionsJSON, walletsJSON, inst.Version,
		inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

// Update persists an updated instance with optimistic locking.
func (s *PgInstanceStore) Update(ctx context.Context, inst model.Instance) error {
	actionsJSON, err := json.Marshal(inst.CurrentActionIDs)
	if err != nil {
		return fmt.Errorf("marshal current actions: %w", err)
	}
	walletsJSON, err := json.Marshal(inst.ParticipantWallets)
	if err != nil {
		return fmt.Errorf("marshal participant wallets: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE instances SET
			state = $1,
			current_action_ids = $2,
			participant_wallets = $3,
			version = $4,
			updated_at = $5
		WHERE id = $6 AND version = $7`,
		inst.State, actionsJSON, walletsJSON, inst.Version+1,
		time.Now().UTC(),
		inst.ID, inst.Version,
	)
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("instance %q version conflict (expected %d)", inst.ID, inst.Version),
		)
	}
	return nil
}

// PgBlueprintStore is a PostgreSQL-backed BlueprintStore.
type PgBlueprintStore struct {
	pool *pgxpool.Pool
}

// NewPgBlueprintStore creates a new PostgreSQL blueprint store.
func NewPgBlueprintStore(pool *pgxpool.Pool) *PgBlueprintStore {
	return &PgBlueprintStore{pool: pool}
}

// Get retrieves a blueprint document by id.
func (s *PgBlueprintStore) Get(ctx context.Context, blueprintID string) (model.Blueprint, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `
		SELECT document FROM blueprints WHERE id = $1`,
		blueprintID,
	).Scan(&doc)
	if err == pgx.ErrNoRows {
		return model.Blueprint{}, model.NewNotFoundError(
			fmt.Sprintf("blueprint %q not found", blueprintID),
		)
	}
	if err != nil {
		return model.Blueprint{}, fmt.Errorf("query blueprint: %w", err)
	}

	var bp model.Blueprint
	if err := json.Unmarshal(doc, &bp); err != nil {
		return model.Blueprint{}, fmt.Errorf("unmarshal blueprint: %w", err)
	}
	return bp, nil
}

// Save upserts a blueprint document.
func (s *PgBlueprintStore) Save(ctx context.Context, bp model.Blueprint) error {
	doc, err := json.Marshal(bp)
	if err != nil {
		return fmt.Errorf("marshal blueprint: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO blueprints (id, version, document, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			version = EXCLUDED.version,
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at`,
		bp.ID, bp.Version, doc, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert blueprint: %w", err)
	}
	return nil
}
