// Package postgres is the PostgreSQL core.Store.
//
// Reads go straight to the pool. WithTx opens a transaction and takes a
// transaction-scoped advisory lock on the tenant id before calling fn, so
// commits for one tenant are serialized while other tenants proceed.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/herdbook/internal/core"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Store implements core.Store over a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	q    queries
}

// New wraps an open pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, q: queries{db: pool}}
}

var _ core.Store = (*Store)(nil)

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// AnimalsBySpecies implements core.Reader.
func (s *Store) AnimalsBySpecies(ctx context.Context, scope core.Scope, species []core.Species) ([]core.Animal, error) {
	return s.q.animalsBySpecies(ctx, scope, species)
}

// AnimalsByMicrochip implements core.Reader.
func (s *Store) AnimalsByMicrochip(ctx context.Context, scope core.Scope, chips []string) ([]core.Animal, error) {
	return s.q.animalsByMicrochip(ctx, scope, chips)
}

// SystemBreeds implements core.Reader.
func (s *Store) SystemBreeds(ctx context.Context, species []core.Species) ([]core.Breed, error) {
	return s.q.systemBreeds(ctx, species)
}

// TenantBreeds implements core.Reader.
func (s *Store) TenantBreeds(ctx context.Context, scope core.Scope, species []core.Species) ([]core.Breed, error) {
	return s.q.tenantBreeds(ctx, scope, species)
}

// WithTx runs fn in a transaction holding the tenant's advisory lock.
func (s *Store) WithTx(ctx context.Context, scope core.Scope, fn func(tx core.Tx) error) (err error) {
	if !scope.Valid() {
		return core.ErrMissingTenant
	}

	ptx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = ptx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := ptx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
	}()

	if _, err = ptx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", scope.TenantID); err != nil {
		return fmt.Errorf("lock tenant: %w", err)
	}

	if err = fn(&tx{scope: scope, q: queries{db: ptx}}); err != nil {
		return err
	}

	if err = ptx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// tx is the core.Tx of one WithTx call.
type tx struct {
	scope core.Scope
	q     queries
}

func (t *tx) check(scope core.Scope, op string) error {
	if scope.TenantID != t.scope.TenantID {
		return fmt.Errorf("%s: transaction belongs to another tenant", op)
	}
	return nil
}

func (t *tx) AnimalsBySpecies(ctx context.Context, scope core.Scope, species []core.Species) ([]core.Animal, error) {
	if err := t.check(scope, "animals by species"); err != nil {
		return nil, err
	}
	return t.q.animalsBySpecies(ctx, scope, species)
}

func (t *tx) AnimalsByMicrochip(ctx context.Context, scope core.Scope, chips []string) ([]core.Animal, error) {
	if err := t.check(scope, "animals by microchip"); err != nil {
		return nil, err
	}
	return t.q.animalsByMicrochip(ctx, scope, chips)
}

func (t *tx) SystemBreeds(ctx context.Context, species []core.Species) ([]core.Breed, error) {
	return t.q.systemBreeds(ctx, species)
}

func (t *tx) TenantBreeds(ctx context.Context, scope core.Scope, species []core.Species) ([]core.Breed, error) {
	if err := t.check(scope, "tenant breeds"); err != nil {
		return nil, err
	}
	return t.q.tenantBreeds(ctx, scope, species)
}

func (t *tx) GetAnimal(ctx context.Context, scope core.Scope, id int64) (core.Animal, error) {
	if err := t.check(scope, "get animal"); err != nil {
		return core.Animal{}, err
	}
	return t.q.getAnimal(ctx, scope, id)
}

func (t *tx) FindAnimalsByName(ctx context.Context, scope core.Scope, species core.Species, name string) ([]core.Animal, error) {
	if err := t.check(scope, "find animals by name"); err != nil {
		return nil, err
	}
	all, err := t.q.animalsBySpecies(ctx, scope, []core.Species{species})
	if err != nil {
		return nil, err
	}
	key := core.NormalizeName(name)
	var out []core.Animal
	for _, a := range all {
		if core.NormalizeName(a.Name) == key {
			out = append(out, a)
		}
	}
	return out, nil
}

func (t *tx) CreateAnimal(ctx context.Context, scope core.Scope, in core.AnimalInput) (core.Animal, error) {
	if err := t.check(scope, "create animal"); err != nil {
		return core.Animal{}, err
	}
	var id int64
	err := t.q.db.QueryRow(ctx, `
		INSERT INTO animals (
			tenant_id, name, species, sex, birth_date, microchip, breed_id,
			dam_id, sire_id, registry_name, registry_number, status, notes,
			is_placeholder, import_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`,
		append([]any{scope.TenantID}, animalArgs(in)...)...,
	).Scan(&id)
	if err != nil {
		return core.Animal{}, err
	}
	return t.q.getAnimal(ctx, scope, id)
}

func (t *tx) UpdateAnimal(ctx context.Context, scope core.Scope, id int64, in core.AnimalInput) (core.Animal, error) {
	if err := t.check(scope, "update animal"); err != nil {
		return core.Animal{}, err
	}
	tag, err := t.q.db.Exec(ctx, `
		UPDATE animals SET
			name = $3, species = $4, sex = $5, birth_date = $6, microchip = $7,
			breed_id = $8, dam_id = $9, sire_id = $10, registry_name = $11,
			registry_number = $12, status = $13, notes = $14,
			is_placeholder = $15, import_id = $16, updated_at = now()
		WHERE tenant_id = $1 AND id = $2`,
		append([]any{scope.TenantID, id}, animalArgs(in)...)...,
	)
	if err != nil {
		return core.Animal{}, err
	}
	if tag.RowsAffected() == 0 {
		return core.Animal{}, core.ErrNotFound
	}
	return t.q.getAnimal(ctx, scope, id)
}

func (t *tx) GetBreed(ctx context.Context, scope core.Scope, id int64) (core.Breed, error) {
	if err := t.check(scope, "get breed"); err != nil {
		return core.Breed{}, err
	}
	row := t.q.db.QueryRow(ctx, `
		SELECT id, tenant_id, species, name FROM breeds
		WHERE id = $2 AND (tenant_id IS NULL OR tenant_id = $1)`,
		scope.TenantID, id)
	return scanBreed(row)
}

func (t *tx) FindBreedByName(ctx context.Context, scope core.Scope, species core.Species, name string) (core.Breed, error) {
	if err := t.check(scope, "find breed"); err != nil {
		return core.Breed{}, err
	}
	row := t.q.db.QueryRow(ctx, `
		SELECT id, tenant_id, species, name FROM breeds
		WHERE species = $2 AND lower(name) = lower($3)
		  AND (tenant_id IS NULL OR tenant_id = $1)
		ORDER BY tenant_id NULLS FIRST, id
		LIMIT 1`,
		scope.TenantID, string(species), name)
	return scanBreed(row)
}

func (t *tx) CreateBreed(ctx context.Context, scope core.Scope, species core.Species, name string) (core.Breed, error) {
	if err := t.check(scope, "create breed"); err != nil {
		return core.Breed{}, err
	}
	row := t.q.db.QueryRow(ctx, `
		INSERT INTO breeds (tenant_id, species, name) VALUES ($1, $2, $3)
		RETURNING id, tenant_id, species, name`,
		scope.TenantID, string(species), name)
	return scanBreed(row)
}

func (t *tx) GetImport(ctx context.Context, scope core.Scope, key string) (core.ImportRecord, error) {
	if err := t.check(scope, "get import"); err != nil {
		return core.ImportRecord{}, err
	}
	var (
		rec    core.ImportRecord
		id     pgtype.UUID
		raw    []byte
		ip, ua pgtype.Text
	)
	err := t.q.db.QueryRow(ctx, `
		SELECT id, tenant_id, idempotency_key, file_sha256, result, ip_address, user_agent, created_at
		FROM animal_imports
		WHERE tenant_id = $1 AND idempotency_key = $2`,
		scope.TenantID, key,
	).Scan(&id, &rec.TenantID, &rec.IdempotencyKey, &rec.FileSHA256, &raw, &ip, &ua, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ImportRecord{}, core.ErrNotFound
	}
	if err != nil {
		return core.ImportRecord{}, err
	}
	if err := json.Unmarshal(raw, &rec.Result); err != nil {
		return core.ImportRecord{}, fmt.Errorf("decode import result: %w", err)
	}
	rec.ID = uuid.UUID(id.Bytes)
	rec.IPAddress = core.PgTextToString(ip)
	rec.UserAgent = core.PgTextToString(ua)
	return rec, nil
}

func (t *tx) SaveImport(ctx context.Context, scope core.Scope, rec core.ImportRecord) error {
	if err := t.check(scope, "save import"); err != nil {
		return err
	}
	result, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("encode import result: %w", err)
	}
	_, err = t.q.db.Exec(ctx, `
		INSERT INTO animal_imports (id, tenant_id, idempotency_key, file_sha256, result, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		core.ToPgUUID(rec.ID), scope.TenantID, rec.IdempotencyKey, rec.FileSHA256, result,
		core.ToPgText(rec.IPAddress), core.ToPgText(rec.UserAgent),
	)
	return err
}
