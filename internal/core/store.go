package core

import (
	"context"

	"github.com/google/uuid"
)

// Reader is the read surface the resolver needs. Every method is scoped to
// one tenant; system breeds are the only records shared across tenants.
type Reader interface {
	// AnimalsBySpecies returns the tenant's animals of the given species,
	// placeholders included.
	AnimalsBySpecies(ctx context.Context, scope Scope, species []Species) ([]Animal, error)
	// AnimalsByMicrochip returns the tenant's animals whose normalized
	// microchip equals one of chips.
	AnimalsByMicrochip(ctx context.Context, scope Scope, chips []string) ([]Animal, error)
	// SystemBreeds returns the shared breed catalog for the given species.
	SystemBreeds(ctx context.Context, species []Species) ([]Breed, error)
	// TenantBreeds returns the tenant's custom breeds for the given species.
	TenantBreeds(ctx context.Context, scope Scope, species []Species) ([]Breed, error)
}

// AnimalInput carries the writable fields of an animal.
type AnimalInput struct {
	Record        ParsedRecord
	BreedID       int64
	DamID         int64
	SireID        int64
	IsPlaceholder bool
	ImportID      uuid.UUID
}

// Tx is the write surface available inside a commit. Implementations must
// make every write invisible to other readers until the surrounding WithTx
// returns nil.
type Tx interface {
	Reader

	GetAnimal(ctx context.Context, scope Scope, id int64) (Animal, error)
	FindAnimalsByName(ctx context.Context, scope Scope, species Species, name string) ([]Animal, error)
	CreateAnimal(ctx context.Context, scope Scope, in AnimalInput) (Animal, error)
	UpdateAnimal(ctx context.Context, scope Scope, id int64, in AnimalInput) (Animal, error)

	GetBreed(ctx context.Context, scope Scope, id int64) (Breed, error)
	FindBreedByName(ctx context.Context, scope Scope, species Species, name string) (Breed, error)
	CreateBreed(ctx context.Context, scope Scope, species Species, name string) (Breed, error)

	GetImport(ctx context.Context, scope Scope, idempotencyKey string) (ImportRecord, error)
	SaveImport(ctx context.Context, scope Scope, rec ImportRecord) error
}

// Store is a tenant-partitioned animal registry.
type Store interface {
	Reader

	// WithTx runs fn in one atomic unit holding the tenant's commit lock.
	// If fn returns an error nothing fn wrote is observable.
	WithTx(ctx context.Context, scope Scope, fn func(tx Tx) error) error

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}
