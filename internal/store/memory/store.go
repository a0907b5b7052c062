// Package memory provides an in-memory, transactional core.Store.
//
// Each tenant's data lives behind its own lock. WithTx holds that lock for
// the whole transaction, runs the callback against a private copy of the
// tenant state and swaps the copy in only when the callback succeeds, so a
// failed commit leaves nothing behind. Ids come from store-wide counters and
// are never reused, the way database sequences behave.
//
// The store backs the server's memory driver and the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JonMunkholm/herdbook/internal/core"
)

// WriteHook is called before every write inside a transaction. Returning an
// error fails the write and with it the transaction.
type WriteHook func(op string) error

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithWriteHook installs a hook for fault injection.
func WithWriteHook(h WriteHook) Option {
	return func(s *Store) { s.hook = h }
}

// WithoutSystemBreeds starts the store with an empty breed catalog.
func WithoutSystemBreeds() Option {
	return func(s *Store) { s.seed = false }
}

// Store is the in-memory registry.
type Store struct {
	mu      sync.RWMutex
	tenants map[string]*tenant
	system  []core.Breed

	animalSeq atomic.Int64
	breedSeq  atomic.Int64

	now  func() time.Time
	hook WriteHook
	seed bool
}

type tenant struct {
	mu    sync.RWMutex
	state state
}

type state struct {
	animals map[int64]core.Animal
	breeds  map[int64]core.Breed
	imports map[string]core.ImportRecord
}

func newState() state {
	return state{
		animals: map[int64]core.Animal{},
		breeds:  map[int64]core.Breed{},
		imports: map[string]core.ImportRecord{},
	}
}

func (st state) clone() state {
	out := state{
		animals: make(map[int64]core.Animal, len(st.animals)),
		breeds:  make(map[int64]core.Breed, len(st.breeds)),
		imports: make(map[string]core.ImportRecord, len(st.imports)),
	}
	for k, v := range st.animals {
		out.animals[k] = v
	}
	for k, v := range st.breeds {
		out.breeds[k] = v
	}
	for k, v := range st.imports {
		out.imports[k] = v
	}
	return out
}

// New creates a Store seeded with the system breed catalog.
func New(opts ...Option) *Store {
	s := &Store{
		tenants: make(map[string]*tenant),
		now:     time.Now,
		seed:    true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.seed {
		for _, sp := range core.AllSpecies {
			for _, name := range core.DefaultBreeds[sp] {
				s.system = append(s.system, core.Breed{
					ID:      s.breedSeq.Add(1),
					Species: sp,
					Name:    name,
				})
			}
		}
	}
	return s
}

var _ core.Store = (*Store)(nil)

func (s *Store) tenant(scope core.Scope) *tenant {
	s.mu.RLock()
	t, ok := s.tenants[scope.TenantID]
	s.mu.RUnlock()
	if ok {
		return t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tenants[scope.TenantID]; ok {
		return t
	}
	t = &tenant{state: newState()}
	s.tenants[scope.TenantID] = t
	return t
}

// read runs fn against the tenant's committed state.
func (s *Store) read(scope core.Scope, fn func(st state)) error {
	if !scope.Valid() {
		return core.ErrMissingTenant
	}
	t := s.tenant(scope)
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn(t.state)
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// WithTx runs fn against a copy of the tenant state and commits it on success.
func (s *Store) WithTx(ctx context.Context, scope core.Scope, fn func(tx core.Tx) error) error {
	if !scope.Valid() {
		return core.ErrMissingTenant
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t := s.tenant(scope)
	t.mu.Lock()
	defer t.mu.Unlock()

	tx := &tx{store: s, scope: scope, state: t.state.clone(), now: s.now()}
	if err := fn(tx); err != nil {
		return err
	}
	t.state = tx.state
	return nil
}

// AnimalsBySpecies implements core.Reader.
func (s *Store) AnimalsBySpecies(_ context.Context, scope core.Scope, species []core.Species) ([]core.Animal, error) {
	var out []core.Animal
	err := s.read(scope, func(st state) { out = s.animalsBySpecies(st, species) })
	return out, err
}

// AnimalsByMicrochip implements core.Reader.
func (s *Store) AnimalsByMicrochip(_ context.Context, scope core.Scope, chips []string) ([]core.Animal, error) {
	var out []core.Animal
	err := s.read(scope, func(st state) { out = s.animalsByMicrochip(st, chips) })
	return out, err
}

// SystemBreeds implements core.Reader.
func (s *Store) SystemBreeds(_ context.Context, species []core.Species) ([]core.Breed, error) {
	want := speciesSet(species)
	var out []core.Breed
	for _, b := range s.system {
		if want[b.Species] {
			out = append(out, b)
		}
	}
	return out, nil
}

// TenantBreeds implements core.Reader.
func (s *Store) TenantBreeds(_ context.Context, scope core.Scope, species []core.Species) ([]core.Breed, error) {
	var out []core.Breed
	err := s.read(scope, func(st state) { out = tenantBreeds(st, species) })
	return out, err
}

// Seed inserts an animal directly, outside any import. A zero ID is
// assigned; a non-zero ID is kept. Zero CreatedAt is set to now.
func (s *Store) Seed(scope core.Scope, a core.Animal) core.Animal {
	t := s.tenant(scope)
	t.mu.Lock()
	defer t.mu.Unlock()

	if a.ID == 0 {
		a.ID = s.animalSeq.Add(1)
	}
	for {
		cur := s.animalSeq.Load()
		if cur >= a.ID || s.animalSeq.CompareAndSwap(cur, a.ID) {
			break
		}
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	a.TenantID = scope.TenantID
	a.Microchip = core.NormalizeMicrochip(a.Microchip)
	t.state.animals[a.ID] = a
	return s.decorate(t.state, a)
}

// SeedBreed adds a custom breed for the tenant.
func (s *Store) SeedBreed(scope core.Scope, species core.Species, name string) core.Breed {
	t := s.tenant(scope)
	t.mu.Lock()
	defer t.mu.Unlock()

	b := core.Breed{ID: s.breedSeq.Add(1), TenantID: scope.TenantID, Species: species, Name: name, Custom: true}
	t.state.breeds[b.ID] = b
	return b
}

// Animals returns the tenant's committed animals ordered by id.
func (s *Store) Animals(scope core.Scope) []core.Animal {
	var out []core.Animal
	_ = s.read(scope, func(st state) {
		for _, a := range st.animals {
			out = append(out, s.decorate(st, a))
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Breeds returns the tenant's committed custom breeds ordered by id.
func (s *Store) Breeds(scope core.Scope) []core.Breed {
	var out []core.Breed
	_ = s.read(scope, func(st state) { out = tenantBreeds(st, nil) })
	return out
}

func (s *Store) animalsBySpecies(st state, species []core.Species) []core.Animal {
	want := speciesSet(species)
	var out []core.Animal
	for _, a := range st.animals {
		if want[a.Species] {
			out = append(out, s.decorate(st, a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) animalsByMicrochip(st state, chips []string) []core.Animal {
	want := make(map[string]bool, len(chips))
	for _, c := range chips {
		want[core.NormalizeMicrochip(c)] = true
	}
	var out []core.Animal
	for _, a := range st.animals {
		if a.Microchip != "" && want[core.NormalizeMicrochip(a.Microchip)] {
			out = append(out, s.decorate(st, a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func tenantBreeds(st state, species []core.Species) []core.Breed {
	want := speciesSet(species)
	var out []core.Breed
	for _, b := range st.breeds {
		if species == nil || want[b.Species] {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// breed looks up a system or tenant breed by id.
func (s *Store) breed(st state, id int64) (core.Breed, bool) {
	if b, ok := st.breeds[id]; ok {
		return b, true
	}
	for _, b := range s.system {
		if b.ID == id {
			return b, true
		}
	}
	return core.Breed{}, false
}

// decorate fills the breed name the way the SQL store's join does.
func (s *Store) decorate(st state, a core.Animal) core.Animal {
	a.BreedName = ""
	if a.BreedID != 0 {
		if b, ok := s.breed(st, a.BreedID); ok {
			a.BreedName = b.Name
		}
	}
	return a
}

func speciesSet(species []core.Species) map[core.Species]bool {
	set := make(map[core.Species]bool, len(species))
	for _, sp := range species {
		set[sp] = true
	}
	return set
}

// tx is one WithTx call's view of a tenant.
type tx struct {
	store *Store
	scope core.Scope
	state state
	now   time.Time
}

func (t *tx) check(scope core.Scope, op string) error {
	if scope.TenantID != t.scope.TenantID {
		return fmt.Errorf("%s: transaction belongs to another tenant", op)
	}
	return nil
}

func (t *tx) write(scope core.Scope, op string) error {
	if err := t.check(scope, op); err != nil {
		return err
	}
	if t.store.hook != nil {
		if err := t.store.hook(op); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

func (t *tx) AnimalsBySpecies(_ context.Context, scope core.Scope, species []core.Species) ([]core.Animal, error) {
	if err := t.check(scope, "animals by species"); err != nil {
		return nil, err
	}
	return t.store.animalsBySpecies(t.state, species), nil
}

func (t *tx) AnimalsByMicrochip(_ context.Context, scope core.Scope, chips []string) ([]core.Animal, error) {
	if err := t.check(scope, "animals by microchip"); err != nil {
		return nil, err
	}
	return t.store.animalsByMicrochip(t.state, chips), nil
}

func (t *tx) SystemBreeds(ctx context.Context, species []core.Species) ([]core.Breed, error) {
	return t.store.SystemBreeds(ctx, species)
}

func (t *tx) TenantBreeds(_ context.Context, scope core.Scope, species []core.Species) ([]core.Breed, error) {
	if err := t.check(scope, "tenant breeds"); err != nil {
		return nil, err
	}
	return tenantBreeds(t.state, species), nil
}

func (t *tx) GetAnimal(_ context.Context, scope core.Scope, id int64) (core.Animal, error) {
	if err := t.check(scope, "get animal"); err != nil {
		return core.Animal{}, err
	}
	a, ok := t.state.animals[id]
	if !ok {
		return core.Animal{}, core.ErrNotFound
	}
	return t.store.decorate(t.state, a), nil
}

func (t *tx) FindAnimalsByName(_ context.Context, scope core.Scope, species core.Species, name string) ([]core.Animal, error) {
	if err := t.check(scope, "find animals by name"); err != nil {
		return nil, err
	}
	key := core.NormalizeName(name)
	var out []core.Animal
	for _, a := range t.store.animalsBySpecies(t.state, []core.Species{species}) {
		if core.NormalizeName(a.Name) == key {
			out = append(out, a)
		}
	}
	return out, nil
}

func (t *tx) CreateAnimal(_ context.Context, scope core.Scope, in core.AnimalInput) (core.Animal, error) {
	if err := t.write(scope, "create animal"); err != nil {
		return core.Animal{}, err
	}
	if err := t.checkRefs(in); err != nil {
		return core.Animal{}, fmt.Errorf("create animal: %w", err)
	}
	a := animalFrom(in)
	a.ID = t.store.animalSeq.Add(1)
	a.TenantID = scope.TenantID
	a.CreatedAt = t.now
	a.UpdatedAt = t.now
	t.state.animals[a.ID] = a
	return t.store.decorate(t.state, a), nil
}

func (t *tx) UpdateAnimal(_ context.Context, scope core.Scope, id int64, in core.AnimalInput) (core.Animal, error) {
	if err := t.write(scope, "update animal"); err != nil {
		return core.Animal{}, err
	}
	cur, ok := t.state.animals[id]
	if !ok {
		return core.Animal{}, core.ErrNotFound
	}
	if err := t.checkRefs(in); err != nil {
		return core.Animal{}, fmt.Errorf("update animal: %w", err)
	}
	a := animalFrom(in)
	a.ID = cur.ID
	a.TenantID = cur.TenantID
	a.CreatedAt = cur.CreatedAt
	a.UpdatedAt = t.now
	t.state.animals[id] = a
	return t.store.decorate(t.state, a), nil
}

// checkRefs enforces what the SQL schema's foreign keys enforce.
func (t *tx) checkRefs(in core.AnimalInput) error {
	for _, id := range []int64{in.DamID, in.SireID} {
		if id == 0 {
			continue
		}
		if _, ok := t.state.animals[id]; !ok {
			return fmt.Errorf("violates foreign key constraint: animal %d", id)
		}
	}
	if in.BreedID != 0 {
		if _, ok := t.store.breed(t.state, in.BreedID); !ok {
			return fmt.Errorf("violates foreign key constraint: breed %d", in.BreedID)
		}
	}
	return nil
}

func animalFrom(in core.AnimalInput) core.Animal {
	r := in.Record
	return core.Animal{
		Name:           r.Name,
		Species:        r.Species,
		Sex:            r.Sex,
		BirthDate:      r.BirthDate,
		Microchip:      core.NormalizeMicrochip(r.Microchip),
		BreedID:        in.BreedID,
		DamID:          in.DamID,
		SireID:         in.SireID,
		RegistryName:   r.RegistryName,
		RegistryNumber: r.RegistryNumber,
		Status:         r.Status,
		Notes:          r.Notes,
		IsPlaceholder:  in.IsPlaceholder,
		ImportID:       in.ImportID,
	}
}

func (t *tx) GetBreed(_ context.Context, scope core.Scope, id int64) (core.Breed, error) {
	if err := t.check(scope, "get breed"); err != nil {
		return core.Breed{}, err
	}
	b, ok := t.store.breed(t.state, id)
	if !ok {
		return core.Breed{}, core.ErrNotFound
	}
	return b, nil
}

func (t *tx) FindBreedByName(_ context.Context, scope core.Scope, species core.Species, name string) (core.Breed, error) {
	if err := t.check(scope, "find breed"); err != nil {
		return core.Breed{}, err
	}
	key := core.NormalizeName(name)
	for _, b := range t.store.system {
		if b.Species == species && core.NormalizeName(b.Name) == key {
			return b, nil
		}
	}
	for _, b := range tenantBreeds(t.state, []core.Species{species}) {
		if core.NormalizeName(b.Name) == key {
			return b, nil
		}
	}
	return core.Breed{}, core.ErrNotFound
}

func (t *tx) CreateBreed(ctx context.Context, scope core.Scope, species core.Species, name string) (core.Breed, error) {
	if err := t.write(scope, "create breed"); err != nil {
		return core.Breed{}, err
	}
	if _, err := t.FindBreedByName(ctx, scope, species, name); err == nil {
		return core.Breed{}, fmt.Errorf("create breed: duplicate key value violates unique constraint: %q", name)
	}
	b := core.Breed{
		ID:       t.store.breedSeq.Add(1),
		TenantID: scope.TenantID,
		Species:  species,
		Name:     strings.TrimSpace(name),
		Custom:   true,
	}
	t.state.breeds[b.ID] = b
	return b, nil
}

func (t *tx) GetImport(_ context.Context, scope core.Scope, key string) (core.ImportRecord, error) {
	if err := t.check(scope, "get import"); err != nil {
		return core.ImportRecord{}, err
	}
	rec, ok := t.state.imports[key]
	if !ok {
		return core.ImportRecord{}, core.ErrNotFound
	}
	return rec, nil
}

func (t *tx) SaveImport(_ context.Context, scope core.Scope, rec core.ImportRecord) error {
	if err := t.write(scope, "save import"); err != nil {
		return err
	}
	if _, ok := t.state.imports[rec.IdempotencyKey]; ok {
		return fmt.Errorf("save import: duplicate key value violates unique constraint: %q", rec.IdempotencyKey)
	}
	rec.TenantID = scope.TenantID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = t.now
	}
	t.state.imports[rec.IdempotencyKey] = rec
	return nil
}
