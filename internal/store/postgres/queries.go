package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/herdbook/internal/core"
)

// queries runs the shared reads against either the pool or a transaction.
type queries struct {
	db DBTX
}

const selectAnimals = `
	SELECT a.id, a.tenant_id, a.name, a.species, a.sex, a.birth_date, a.microchip,
	       a.breed_id, b.name, a.dam_id, a.sire_id, a.registry_name, a.registry_number,
	       a.status, a.notes, a.is_placeholder, a.import_id, a.created_at, a.updated_at
	FROM animals a
	LEFT JOIN breeds b ON b.id = a.breed_id`

func speciesStrings(species []core.Species) []string {
	out := make([]string, len(species))
	for i, sp := range species {
		out[i] = string(sp)
	}
	return out
}

func (q queries) animalsBySpecies(ctx context.Context, scope core.Scope, species []core.Species) ([]core.Animal, error) {
	rows, err := q.db.Query(ctx, selectAnimals+`
		WHERE a.tenant_id = $1 AND a.species = ANY($2)
		ORDER BY a.id`,
		scope.TenantID, speciesStrings(species))
	if err != nil {
		return nil, fmt.Errorf("query animals by species: %w", err)
	}
	return collectAnimals(rows)
}

func (q queries) animalsByMicrochip(ctx context.Context, scope core.Scope, chips []string) ([]core.Animal, error) {
	normalized := make([]string, 0, len(chips))
	for _, c := range chips {
		if n := core.NormalizeMicrochip(c); n != "" {
			normalized = append(normalized, n)
		}
	}
	if len(normalized) == 0 {
		return nil, nil
	}
	rows, err := q.db.Query(ctx, selectAnimals+`
		WHERE a.tenant_id = $1 AND a.microchip = ANY($2)
		ORDER BY a.id`,
		scope.TenantID, normalized)
	if err != nil {
		return nil, fmt.Errorf("query animals by microchip: %w", err)
	}
	return collectAnimals(rows)
}

func (q queries) getAnimal(ctx context.Context, scope core.Scope, id int64) (core.Animal, error) {
	rows, err := q.db.Query(ctx, selectAnimals+`
		WHERE a.tenant_id = $1 AND a.id = $2`,
		scope.TenantID, id)
	if err != nil {
		return core.Animal{}, fmt.Errorf("query animal: %w", err)
	}
	animals, err := collectAnimals(rows)
	if err != nil {
		return core.Animal{}, err
	}
	if len(animals) == 0 {
		return core.Animal{}, core.ErrNotFound
	}
	return animals[0], nil
}

func (q queries) systemBreeds(ctx context.Context, species []core.Species) ([]core.Breed, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, tenant_id, species, name FROM breeds
		WHERE tenant_id IS NULL AND species = ANY($1)
		ORDER BY id`,
		speciesStrings(species))
	if err != nil {
		return nil, fmt.Errorf("query system breeds: %w", err)
	}
	return collectBreeds(rows)
}

func (q queries) tenantBreeds(ctx context.Context, scope core.Scope, species []core.Species) ([]core.Breed, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, tenant_id, species, name FROM breeds
		WHERE tenant_id = $1 AND species = ANY($2)
		ORDER BY id`,
		scope.TenantID, speciesStrings(species))
	if err != nil {
		return nil, fmt.Errorf("query tenant breeds: %w", err)
	}
	return collectBreeds(rows)
}

// animalArgs returns the writable columns in insert order, name through import_id.
func animalArgs(in core.AnimalInput) []any {
	r := in.Record
	sex := r.Sex
	if sex == "" {
		sex = core.SexUnknown
	}
	return []any{
		r.Name,
		string(r.Species),
		string(sex),
		r.BirthDate,
		core.ToPgText(core.NormalizeMicrochip(r.Microchip)),
		core.ToPgInt8(in.BreedID),
		core.ToPgInt8(in.DamID),
		core.ToPgInt8(in.SireID),
		core.ToPgText(r.RegistryName),
		core.ToPgText(r.RegistryNumber),
		core.ToPgText(string(r.Status)),
		core.ToPgText(r.Notes),
		in.IsPlaceholder,
		core.ToPgUUID(in.ImportID),
	}
}

func collectAnimals(rows pgx.Rows) ([]core.Animal, error) {
	defer rows.Close()

	var out []core.Animal
	for rows.Next() {
		var (
			a                            core.Animal
			species, sex                 string
			microchip, breedName         pgtype.Text
			registryName, registryNumber pgtype.Text
			status, notes                pgtype.Text
			breedID, damID, sireID       pgtype.Int8
			importID                     pgtype.UUID
		)
		err := rows.Scan(
			&a.ID, &a.TenantID, &a.Name, &species, &sex, &a.BirthDate, &microchip,
			&breedID, &breedName, &damID, &sireID, &registryName, &registryNumber,
			&status, &notes, &a.IsPlaceholder, &importID, &a.CreatedAt, &a.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan animal: %w", err)
		}
		a.Species = core.Species(species)
		a.Sex = core.Sex(sex)
		a.Microchip = core.PgTextToString(microchip)
		a.BreedID = core.PgInt8ToID(breedID)
		a.BreedName = core.PgTextToString(breedName)
		a.DamID = core.PgInt8ToID(damID)
		a.SireID = core.PgInt8ToID(sireID)
		a.RegistryName = core.PgTextToString(registryName)
		a.RegistryNumber = core.PgTextToString(registryNumber)
		a.Status = core.Status(core.PgTextToString(status))
		a.Notes = core.PgTextToString(notes)
		if importID.Valid {
			a.ImportID = importID.Bytes
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read animals: %w", err)
	}
	return out, nil
}

func collectBreeds(rows pgx.Rows) ([]core.Breed, error) {
	defer rows.Close()

	var out []core.Breed
	for rows.Next() {
		b, err := scanBreed(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read breeds: %w", err)
	}
	return out, nil
}

func scanBreed(row pgx.Row) (core.Breed, error) {
	var (
		b        core.Breed
		tenantID pgtype.Text
		species  string
	)
	if err := row.Scan(&b.ID, &tenantID, &species, &b.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Breed{}, core.ErrNotFound
		}
		return core.Breed{}, fmt.Errorf("scan breed: %w", err)
	}
	b.TenantID = core.PgTextToString(tenantID)
	b.Species = core.Species(species)
	b.Custom = tenantID.Valid
	return b, nil
}
