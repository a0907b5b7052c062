package core

// resolver.go matches validated records against the registry.
//
// Store reads are batched with dataloader: all rows of one species share a
// single AnimalsBySpecies read, all microchips of a preview share one
// AnimalsByMicrochip read, and breeds are loaded once per species. A preview
// therefore costs O(distinct species) queries regardless of row count.

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/graph-gophers/dataloader"
)

// DefaultBatchWait is how long loaders collect keys before hitting the store.
const DefaultBatchWait = 2 * time.Millisecond

// fileIndex maps species and normalized name to the rows of the current file
// that define such an animal, in row order.
type fileIndex map[Species]map[string][]int

func (fi fileIndex) add(row int, rec ParsedRecord) {
	byName, ok := fi[rec.Species]
	if !ok {
		byName = make(map[string][]int)
		fi[rec.Species] = byName
	}
	key := NormalizeName(rec.Name)
	byName[key] = append(byName[key], row)
}

// lookup returns the first row other than self naming the animal.
func (fi fileIndex) lookup(species Species, name string, self int) (int, bool) {
	for _, row := range fi[species][NormalizeName(name)] {
		if row != self {
			return row, true
		}
	}
	return 0, false
}

// resolverOptions tune suggestion ranking and batching.
type resolverOptions struct {
	MinSuggestionScore float64
	SuggestionLimit    int
	BatchWait          time.Duration
}

// resolver is built per preview. Loaders cache results for its lifetime so
// every row sees the same snapshot of the store.
type resolver struct {
	scope Scope
	file  fileIndex
	opts  resolverOptions

	animals *dataloader.Loader
	chips   *dataloader.Loader
	breeds  *dataloader.Loader
}

func newResolver(store Reader, catalog *breedCatalog, scope Scope, file fileIndex, opts resolverOptions) *resolver {
	wait := opts.BatchWait
	if wait <= 0 {
		wait = DefaultBatchWait
	}

	animalsFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		species := make([]Species, len(keys))
		for i, k := range keys {
			species[i] = Species(k.String())
		}
		animals, err := store.AnimalsBySpecies(ctx, scope, species)
		if err != nil {
			return failAll(len(keys), fmt.Errorf("load animals: %w", err))
		}
		grouped := make(map[Species][]Animal, len(species))
		for _, a := range animals {
			grouped[a.Species] = append(grouped[a.Species], a)
		}
		results := make([]*dataloader.Result, len(keys))
		for i, sp := range species {
			results[i] = &dataloader.Result{Data: grouped[sp]}
		}
		return results
	}

	chipsFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		chips := make([]string, len(keys))
		for i, k := range keys {
			chips[i] = k.String()
		}
		animals, err := store.AnimalsByMicrochip(ctx, scope, chips)
		if err != nil {
			return failAll(len(keys), fmt.Errorf("load animals by microchip: %w", err))
		}
		grouped := make(map[string][]Animal, len(chips))
		for _, a := range animals {
			chip := NormalizeMicrochip(a.Microchip)
			grouped[chip] = append(grouped[chip], a)
		}
		results := make([]*dataloader.Result, len(keys))
		for i, chip := range chips {
			results[i] = &dataloader.Result{Data: grouped[chip]}
		}
		return results
	}

	breedsFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		species := make([]Species, len(keys))
		for i, k := range keys {
			species[i] = Species(k.String())
		}
		bySpecies, err := catalog.forSpecies(ctx, store, scope, species)
		if err != nil {
			return failAll(len(keys), err)
		}
		results := make([]*dataloader.Result, len(keys))
		for i, sp := range species {
			results[i] = &dataloader.Result{Data: bySpecies[sp]}
		}
		return results
	}

	return &resolver{
		scope:   scope,
		file:    file,
		opts:    opts,
		animals: dataloader.NewBatchedLoader(animalsFn, dataloader.WithWait(wait)),
		chips:   dataloader.NewBatchedLoader(chipsFn, dataloader.WithWait(wait)),
		breeds:  dataloader.NewBatchedLoader(breedsFn, dataloader.WithWait(wait)),
	}
}

// serialReader runs one read at a time. Loaders flush concurrently, and a
// transaction's connection accepts a single query at a time.
type serialReader struct {
	mu sync.Mutex
	r  Reader
}

func (s *serialReader) AnimalsBySpecies(ctx context.Context, scope Scope, species []Species) ([]Animal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.AnimalsBySpecies(ctx, scope, species)
}

func (s *serialReader) AnimalsByMicrochip(ctx context.Context, scope Scope, chips []string) ([]Animal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.AnimalsByMicrochip(ctx, scope, chips)
}

func (s *serialReader) SystemBreeds(ctx context.Context, species []Species) ([]Breed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.SystemBreeds(ctx, species)
}

func (s *serialReader) TenantBreeds(ctx context.Context, scope Scope, species []Species) ([]Breed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.TenantBreeds(ctx, scope, species)
}

func failAll(n int, err error) []*dataloader.Result {
	results := make([]*dataloader.Result, n)
	for i := range results {
		results[i] = &dataloader.Result{Error: err}
	}
	return results
}

func (r *resolver) animalsOf(ctx context.Context, species Species) ([]Animal, error) {
	v, err := r.animals.Load(ctx, dataloader.StringKey(species))()
	if err != nil {
		return nil, err
	}
	list, _ := v.([]Animal)
	return list, nil
}

func (r *resolver) animalsByChip(ctx context.Context, chip string) ([]Animal, error) {
	v, err := r.chips.Load(ctx, dataloader.StringKey(chip))()
	if err != nil {
		return nil, err
	}
	list, _ := v.([]Animal)
	return list, nil
}

func (r *resolver) breedsOf(ctx context.Context, species Species) ([]Breed, error) {
	v, err := r.breeds.Load(ctx, dataloader.StringKey(species))()
	if err != nil {
		return nil, err
	}
	list, _ := v.([]Breed)
	return list, nil
}

// resolve computes the findings for one valid record. Errors are store or
// context failures and abort the preview.
func (r *resolver) resolve(ctx context.Context, row int, rec ParsedRecord) (Findings, error) {
	var f Findings

	pool, err := r.animalsOf(ctx, rec.Species)
	if err != nil {
		return f, err
	}

	dup, err := r.duplicate(ctx, rec, pool)
	if err != nil {
		return f, err
	}
	f.Duplicate = dup

	f.Dam, f.DamIssue = r.parent(row, rec, ParentDam, pool)
	f.Sire, f.SireIssue = r.parent(row, rec, ParentSire, pool)

	if rec.Breed != "" {
		breeds, err := r.breedsOf(ctx, rec.Species)
		if err != nil {
			return f, err
		}
		f.BreedID, f.BreedIssue = r.breed(rec, breeds)
	}

	return f, ctx.Err()
}

// duplicate finds the single existing animal the record most likely
// duplicates. A microchip match wins over a name match.
func (r *resolver) duplicate(ctx context.Context, rec ParsedRecord, pool []Animal) (*DuplicateFinding, error) {
	if rec.Microchip != "" {
		byChip, err := r.animalsByChip(ctx, rec.Microchip)
		if err != nil {
			return nil, err
		}
		// An animal of another species sharing the chip is not a duplicate.
		var sameSpecies []Animal
		for _, a := range byChip {
			if a.Species == rec.Species {
				sameSpecies = append(sameSpecies, a)
			}
		}
		if a, ok := mostRecent(sameSpecies); ok {
			return &DuplicateFinding{Match: a.Summary(), MatchedOn: "microchip"}, nil
		}
	}

	key := NormalizeName(rec.Name)
	var byName []Animal
	for _, a := range pool {
		if NormalizeName(a.Name) != key {
			continue
		}
		// Two different chips are two different animals.
		if rec.Microchip != "" && a.Microchip != "" && NormalizeMicrochip(a.Microchip) != rec.Microchip {
			continue
		}
		byName = append(byName, a)
	}
	if a, ok := mostRecent(byName); ok {
		return &DuplicateFinding{Match: a.Summary(), MatchedOn: "name"}, nil
	}
	return nil, nil
}

// mostRecent picks the latest created animal, ties by higher id.
func mostRecent(list []Animal) (Animal, bool) {
	if len(list) == 0 {
		return Animal{}, false
	}
	best := list[0]
	for _, a := range list[1:] {
		if a.CreatedAt.After(best.CreatedAt) || (a.CreatedAt.Equal(best.CreatedAt) && a.ID > best.ID) {
			best = a
		}
	}
	return best, true
}

// parent settles a Dam or Sire name. Exactly one exact registry match links
// silently; several exact matches are ambiguous and surface all of them.
// Failing that, another row of the file with that name links silently.
// Anything else raises parent_not_found with ranked suggestions.
func (r *resolver) parent(row int, rec ParsedRecord, field ParentField, pool []Animal) (ParentLink, *ParentNotFoundFinding) {
	name := rec.parentName(field)
	if name == "" {
		return ParentLink{}, nil
	}

	key := NormalizeName(name)
	var exact []Animal
	for _, a := range pool {
		if NormalizeName(a.Name) == key {
			exact = append(exact, a)
		}
	}

	switch {
	case len(exact) == 1:
		return ParentLink{AnimalID: exact[0].ID}, nil
	case len(exact) > 1:
		suggestions := make([]ParentSuggestion, len(exact))
		for i, a := range exact {
			suggestions[i] = ParentSuggestion{AnimalID: a.ID, Name: a.Name, Sex: a.Sex, Breed: a.BreedName, MatchScore: 1}
		}
		sortParentSuggestions(suggestions)
		if limit := r.opts.SuggestionLimit; limit > 0 && len(suggestions) > limit {
			suggestions = suggestions[:limit]
		}
		return ParentLink{}, &ParentNotFoundFinding{Field: field, Name: name, Suggestions: suggestions}
	}

	if other, ok := r.file.lookup(rec.Species, name, row); ok {
		return ParentLink{Row: other}, nil
	}

	return ParentLink{}, &ParentNotFoundFinding{
		Field:       field,
		Name:        name,
		Suggestions: rankParents(name, pool, r.opts.MinSuggestionScore, r.opts.SuggestionLimit),
	}
}

// breed matches the breed name case-insensitively against the species'
// system and tenant breeds. System breeds come first, so a custom breed
// shadowing a system name never wins.
func (r *resolver) breed(rec ParsedRecord, breeds []Breed) (int64, *BreedNotFoundFinding) {
	key := NormalizeName(rec.Breed)
	for _, b := range breeds {
		if NormalizeName(b.Name) == key {
			return b.ID, nil
		}
	}
	return 0, &BreedNotFoundFinding{
		Breed:       rec.Breed,
		Suggestions: rankBreeds(rec.Breed, breeds, r.opts.MinSuggestionScore, r.opts.SuggestionLimit),
	}
}
