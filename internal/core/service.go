package core

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrMissingTenant is returned when an operation is called without a tenant
// scope.
var ErrMissingTenant = errors.New("missing tenant scope")

// Default pipeline settings, used for zero Options fields.
const (
	DefaultMaxRows            = 5000
	DefaultPreviewTimeout     = 30 * time.Second
	DefaultWorkers            = 8
	DefaultSuggestionLimit    = 5
	DefaultMinSuggestionScore = 0.5
)

// Options tune the import pipeline. Zero fields take the defaults above.
type Options struct {
	MaxRows            int
	PreviewTimeout     time.Duration
	Workers            int
	MaxConcurrent      int
	MaxWaitTime        time.Duration
	SuggestionLimit    int
	MinSuggestionScore float64
	BatchWait          time.Duration
	BreedCacheSize     int
}

func (o Options) withDefaults() Options {
	if o.MaxRows <= 0 {
		o.MaxRows = DefaultMaxRows
	}
	if o.PreviewTimeout <= 0 {
		o.PreviewTimeout = DefaultPreviewTimeout
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.SuggestionLimit <= 0 {
		o.SuggestionLimit = DefaultSuggestionLimit
	}
	if o.MinSuggestionScore <= 0 {
		o.MinSuggestionScore = DefaultMinSuggestionScore
	}
	if o.BatchWait <= 0 {
		o.BatchWait = DefaultBatchWait
	}
	return o
}

// Service runs the preview and execute phases against a Store. It keeps no
// state between phases beyond caches of shared reference data.
type Service struct {
	store   Store
	catalog *breedCatalog
	limiter *ImportLimiter
	opts    Options

	now func() time.Time
}

// NewService creates a Service over store.
func NewService(store Store, opts Options) (*Service, error) {
	if store == nil {
		return nil, errors.New("nil store")
	}
	opts = opts.withDefaults()

	catalog, err := newBreedCatalog(store, opts.BreedCacheSize)
	if err != nil {
		return nil, err
	}

	return &Service{
		store:   store,
		catalog: catalog,
		limiter: NewImportLimiter(opts.MaxConcurrent, opts.MaxWaitTime),
		opts:    opts,
		now:     time.Now,
	}, nil
}

// Limiter exposes the import limiter for health output and shutdown.
func (s *Service) Limiter() *ImportLimiter {
	return s.limiter
}

// Options returns the effective pipeline settings.
func (s *Service) Options() Options {
	return s.opts
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ListBreeds returns the breeds selectable for a species: system breeds
// followed by the tenant's custom breeds, each group sorted by name.
func (s *Service) ListBreeds(ctx context.Context, scope Scope, species Species) ([]Breed, error) {
	if !scope.Valid() {
		return nil, ErrMissingTenant
	}
	bySpecies, err := s.catalog.forSpecies(ctx, s.store, scope, []Species{species})
	if err != nil {
		return nil, err
	}
	breeds := bySpecies[species]
	sort.SliceStable(breeds, func(i, j int) bool {
		if breeds[i].Custom != breeds[j].Custom {
			return !breeds[i].Custom
		}
		return breeds[i].Name < breeds[j].Name
	})
	if breeds == nil {
		breeds = []Breed{}
	}
	return breeds, nil
}

// RefreshBreeds drops cached system breeds so the next preview re-reads them.
func (s *Service) RefreshBreeds() {
	s.catalog.purge()
}

// TemplateCSV returns an import template: the header row plus one example.
func TemplateCSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, len(Columns))
	for i, c := range Columns {
		header[i] = string(c)
	}
	err := w.WriteAll([][]string{
		header,
		{
			"Willow", "goat", "female", "2022-03-14", "985112003456789", "Nubian",
			"Hazel", "Juniper", "ADGA", "N1234567", "active", "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("write template: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Service) resolverOptions() resolverOptions {
	return resolverOptions{
		MinSuggestionScore: s.opts.MinSuggestionScore,
		SuggestionLimit:    s.opts.SuggestionLimit,
		BatchWait:          s.opts.BatchWait,
	}
}
