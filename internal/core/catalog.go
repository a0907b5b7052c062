package core

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultBreedCacheSize is the number of species whose system breeds are kept
// in memory.
const DefaultBreedCacheSize = 64

// DefaultBreeds is the system breed catalog seeded into new stores.
var DefaultBreeds = map[Species][]string{
	SpeciesDog: {
		"Labrador Retriever", "Golden Retriever", "German Shepherd", "Border Collie",
		"Australian Shepherd", "Beagle", "Poodle", "Dachshund", "Boxer", "Rottweiler",
		"Cavalier King Charles Spaniel", "Bernese Mountain Dog", "Shetland Sheepdog",
		"Yorkshire Terrier", "Mixed",
	},
	SpeciesCat: {
		"Maine Coon", "Persian", "Siamese", "Ragdoll", "Bengal", "British Shorthair",
		"Sphynx", "Abyssinian", "Domestic Shorthair", "Domestic Longhair",
	},
	SpeciesHorse: {
		"Thoroughbred", "Quarter Horse", "Arabian", "Appaloosa", "Paint", "Morgan",
		"Standardbred", "Tennessee Walking Horse", "Friesian", "Clydesdale", "Warmblood",
	},
	SpeciesCattle: {
		"Angus", "Hereford", "Holstein", "Jersey", "Simmental", "Charolais",
		"Limousin", "Brahman", "Highland", "Shorthorn",
	},
	SpeciesGoat: {
		"Nubian", "Boer", "Alpine", "LaMancha", "Nigerian Dwarf", "Saanen",
		"Toggenburg", "Oberhasli", "Pygmy", "Kiko",
	},
	SpeciesSheep: {
		"Merino", "Suffolk", "Dorper", "Katahdin", "Hampshire", "Dorset",
		"Romney", "Corriedale", "Jacob", "Shetland",
	},
	SpeciesPig: {
		"Yorkshire", "Duroc", "Berkshire", "Hampshire", "Landrace",
		"Kunekune", "Tamworth", "Gloucestershire Old Spot",
	},
	SpeciesRabbit: {
		"Holland Lop", "Netherland Dwarf", "Mini Rex", "Lionhead", "Flemish Giant",
		"New Zealand", "Californian", "Rex",
	},
	SpeciesAlpaca: {"Huacaya", "Suri"},
	SpeciesLlama:  {"Classic", "Woolly", "Suri", "Medium"},
}

// breedCatalog serves breeds per species. System breeds change only with a
// migration, so they are cached across imports; tenant breeds are always read
// from the store.
type breedCatalog struct {
	store Reader
	cache *lru.ARCCache
}

func newBreedCatalog(store Reader, size int) (*breedCatalog, error) {
	if size <= 0 {
		size = DefaultBreedCacheSize
	}
	cache, err := lru.NewARC(size)
	if err != nil {
		return nil, fmt.Errorf("create breed cache: %w", err)
	}
	return &breedCatalog{store: store, cache: cache}, nil
}

// system returns the system breeds for each species, reading only the
// species missing from the cache.
func (c *breedCatalog) system(ctx context.Context, species []Species) (map[Species][]Breed, error) {
	out := make(map[Species][]Breed, len(species))
	var missing []Species
	for _, sp := range species {
		if v, ok := c.cache.Get(sp); ok {
			out[sp] = v.([]Breed)
			continue
		}
		missing = append(missing, sp)
	}
	if len(missing) == 0 {
		return out, nil
	}

	breeds, err := c.store.SystemBreeds(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("load system breeds: %w", err)
	}
	fresh := make(map[Species][]Breed, len(missing))
	for _, sp := range missing {
		fresh[sp] = []Breed{}
	}
	for _, b := range breeds {
		fresh[b.Species] = append(fresh[b.Species], b)
	}
	for sp, list := range fresh {
		c.cache.Add(sp, list)
		out[sp] = list
	}
	return out, nil
}

// forSpecies returns system and tenant breeds for each species, system first.
// Tenant breeds are read through r, which may be a commit transaction.
func (c *breedCatalog) forSpecies(ctx context.Context, r Reader, scope Scope, species []Species) (map[Species][]Breed, error) {
	out, err := c.system(ctx, species)
	if err != nil {
		return nil, err
	}
	custom, err := r.TenantBreeds(ctx, scope, species)
	if err != nil {
		return nil, fmt.Errorf("load tenant breeds: %w", err)
	}
	merged := make(map[Species][]Breed, len(out))
	for sp, list := range out {
		merged[sp] = append([]Breed(nil), list...)
	}
	for _, b := range custom {
		merged[b.Species] = append(merged[b.Species], b)
	}
	return merged, nil
}

// purge drops every cached species.
func (c *breedCatalog) purge() {
	c.cache.Purge()
}
