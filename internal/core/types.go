package core

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// ErrNotFound is returned by stores when a requested record does not exist
// for the tenant.
var ErrNotFound = errors.New("record not found")

// Scope constrains every store read and write to a single tenant.
type Scope struct {
	TenantID string
}

// Valid reports whether the scope names a tenant.
func (s Scope) Valid() bool {
	return strings.TrimSpace(s.TenantID) != ""
}

// ---------------------------------------------------------------------------
// Enumerations
// ---------------------------------------------------------------------------

// Species is a supported animal species.
type Species string

const (
	SpeciesDog    Species = "dog"
	SpeciesCat    Species = "cat"
	SpeciesHorse  Species = "horse"
	SpeciesCattle Species = "cattle"
	SpeciesGoat   Species = "goat"
	SpeciesSheep  Species = "sheep"
	SpeciesPig    Species = "pig"
	SpeciesRabbit Species = "rabbit"
	SpeciesAlpaca Species = "alpaca"
	SpeciesLlama  Species = "llama"
)

// AllSpecies lists the supported species in display order.
var AllSpecies = []Species{
	SpeciesDog, SpeciesCat, SpeciesHorse, SpeciesCattle, SpeciesGoat,
	SpeciesSheep, SpeciesPig, SpeciesRabbit, SpeciesAlpaca, SpeciesLlama,
}

var speciesAliases = map[string]Species{
	"dog": SpeciesDog, "dogs": SpeciesDog, "canine": SpeciesDog,
	"cat": SpeciesCat, "cats": SpeciesCat, "feline": SpeciesCat,
	"horse": SpeciesHorse, "horses": SpeciesHorse, "equine": SpeciesHorse, "pony": SpeciesHorse,
	"cattle": SpeciesCattle, "cow": SpeciesCattle, "cows": SpeciesCattle, "bovine": SpeciesCattle,
	"goat": SpeciesGoat, "goats": SpeciesGoat, "caprine": SpeciesGoat,
	"sheep": SpeciesSheep, "ovine": SpeciesSheep,
	"pig": SpeciesPig, "pigs": SpeciesPig, "swine": SpeciesPig, "porcine": SpeciesPig, "hog": SpeciesPig,
	"rabbit": SpeciesRabbit, "rabbits": SpeciesRabbit,
	"alpaca": SpeciesAlpaca, "alpacas": SpeciesAlpaca,
	"llama": SpeciesLlama, "llamas": SpeciesLlama,
}

// ParseSpecies maps user input (case-insensitive, common aliases allowed) to
// a Species.
func ParseSpecies(s string) (Species, bool) {
	sp, ok := speciesAliases[strings.ToLower(strings.TrimSpace(s))]
	return sp, ok
}

// Sex is the recorded sex of an animal.
type Sex string

const (
	SexMale    Sex = "male"
	SexFemale  Sex = "female"
	SexUnknown Sex = "unknown"
)

var sexAliases = map[string]Sex{
	"male": SexMale, "m": SexMale, "stallion": SexMale, "colt": SexMale,
	"gelding": SexMale, "buck": SexMale, "ram": SexMale, "boar": SexMale,
	"bull": SexMale, "steer": SexMale, "tom": SexMale, "sire": SexMale,
	"female": SexFemale, "f": SexFemale, "mare": SexFemale, "filly": SexFemale,
	"doe": SexFemale, "ewe": SexFemale, "sow": SexFemale, "heifer": SexFemale,
	"queen": SexFemale, "bitch": SexFemale, "dam": SexFemale, "jenny": SexFemale,
	"unknown": SexUnknown, "u": SexUnknown, "?": SexUnknown,
}

// ParseSex maps user input to a Sex.
func ParseSex(s string) (Sex, bool) {
	sx, ok := sexAliases[strings.ToLower(strings.TrimSpace(s))]
	return sx, ok
}

// Status is the lifecycle status of an animal.
type Status string

const (
	StatusActive   Status = "active"
	StatusSold     Status = "sold"
	StatusDeceased Status = "deceased"
	StatusRetired  Status = "retired"
	StatusBreeding Status = "breeding"
)

var statusAliases = map[string]Status{
	"active": StatusActive, "alive": StatusActive, "current": StatusActive,
	"sold": StatusSold,
	"deceased": StatusDeceased, "dead": StatusDeceased, "died": StatusDeceased,
	"retired": StatusRetired,
	"breeding": StatusBreeding, "breeder": StatusBreeding,
}

// ParseStatus maps user input to a Status.
func ParseStatus(s string) (Status, bool) {
	st, ok := statusAliases[strings.ToLower(strings.TrimSpace(s))]
	return st, ok
}

// ---------------------------------------------------------------------------
// Registry records
// ---------------------------------------------------------------------------

// Animal is a registry record as seen by the import pipeline.
type Animal struct {
	ID             int64       `json:"id"`
	TenantID       string      `json:"-"`
	Name           string      `json:"name"`
	Species        Species     `json:"species"`
	Sex            Sex         `json:"sex,omitempty"`
	BirthDate      pgtype.Date `json:"birthDate"`
	Microchip      string      `json:"microchip,omitempty"`
	BreedID        int64       `json:"breedId,omitempty"`
	BreedName      string      `json:"breed,omitempty"`
	DamID          int64       `json:"damId,omitempty"`
	SireID         int64       `json:"sireId,omitempty"`
	RegistryName   string      `json:"registryName,omitempty"`
	RegistryNumber string      `json:"registryNumber,omitempty"`
	Status         Status      `json:"status,omitempty"`
	Notes          string      `json:"notes,omitempty"`
	IsPlaceholder  bool        `json:"isPlaceholder"`
	ImportID       uuid.UUID   `json:"-"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// Breed is either a system breed (shared, TenantID empty) or a tenant's
// custom breed.
type Breed struct {
	ID       int64   `json:"id"`
	TenantID string  `json:"-"`
	Species  Species `json:"species"`
	Name     string  `json:"name"`
	Custom   bool    `json:"custom"`
}

// AnimalSummary is the compact view of an existing animal surfaced in
// previews.
type AnimalSummary struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Species       Species   `json:"species"`
	Sex           Sex       `json:"sex,omitempty"`
	Microchip     string    `json:"microchip,omitempty"`
	Breed         string    `json:"breed,omitempty"`
	IsPlaceholder bool      `json:"isPlaceholder,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Summary returns the preview view of the animal.
func (a Animal) Summary() AnimalSummary {
	return AnimalSummary{
		ID:            a.ID,
		Name:          a.Name,
		Species:       a.Species,
		Sex:           a.Sex,
		Microchip:     a.Microchip,
		Breed:         a.BreedName,
		IsPlaceholder: a.IsPlaceholder,
		CreatedAt:     a.CreatedAt,
	}
}

// ---------------------------------------------------------------------------
// Pipeline records
// ---------------------------------------------------------------------------

// Column is a known import column.
type Column string

const (
	ColName           Column = "Name"
	ColSpecies        Column = "Species"
	ColSex            Column = "Sex"
	ColBirthDate      Column = "Birth Date"
	ColMicrochip      Column = "Microchip"
	ColBreed          Column = "Breed"
	ColDamName        Column = "Dam Name"
	ColSireName       Column = "Sire Name"
	ColRegistryName   Column = "Registry Name"
	ColRegistryNumber Column = "Registry Number"
	ColStatus         Column = "Status"
	ColNotes          Column = "Notes"
)

// Columns lists every known column in template order.
var Columns = []Column{
	ColName, ColSpecies, ColSex, ColBirthDate, ColMicrochip, ColBreed,
	ColDamName, ColSireName, ColRegistryName, ColRegistryNumber, ColStatus, ColNotes,
}

// RequiredColumns must be present in the header row.
var RequiredColumns = []Column{ColName, ColSpecies, ColSex}

// RawRow is one data row of the uploaded file keyed by known column.
// A column missing from the file is absent from Values.
type RawRow struct {
	Number int
	Values map[Column]string
}

// Get returns the cell for a column and whether the column exists in the file.
func (r RawRow) Get(c Column) (string, bool) {
	v, ok := r.Values[c]
	return v, ok
}

// ParsedRecord is a validated row.
type ParsedRecord struct {
	Name           string      `json:"name"`
	Species        Species     `json:"species"`
	Sex            Sex         `json:"sex"`
	BirthDate      pgtype.Date `json:"birthDate"`
	Microchip      string      `json:"microchip,omitempty"`
	Breed          string      `json:"breed,omitempty"`
	DamName        string      `json:"damName,omitempty"`
	SireName       string      `json:"sireName,omitempty"`
	RegistryName   string      `json:"registryName,omitempty"`
	RegistryNumber string      `json:"registryNumber,omitempty"`
	Status         Status      `json:"status,omitempty"`
	Notes          string      `json:"notes,omitempty"`
}

// ParentField names which parent reference a finding or decision concerns.
type ParentField string

const (
	ParentDam  ParentField = "dam"
	ParentSire ParentField = "sire"
)

// parentName returns the supplied name for the given parent field.
func (r ParsedRecord) parentName(f ParentField) string {
	if f == ParentDam {
		return r.DamName
	}
	return r.SireName
}

// RowStatus classifies a preview row.
type RowStatus string

const (
	RowValid   RowStatus = "valid"
	RowWarning RowStatus = "warning"
	RowError   RowStatus = "error"
)

// ImportPreview is the output of the preview phase.
type ImportPreview struct {
	Summary          PreviewSummary `json:"summary"`
	Rows             []RowResult    `json:"rows"`
	ProcessingTimeMs int64          `json:"processingTimeMs"`
}

// PreviewSummary counts rows per status. Valid+Warning+Error == Total.
type PreviewSummary struct {
	TotalRows   int `json:"totalRows"`
	ValidRows   int `json:"validRows"`
	WarningRows int `json:"warningRows"`
	ErrorRows   int `json:"errorRows"`
}

// ImportExecutionResult is the output of the execute phase.
type ImportExecutionResult struct {
	Success             bool             `json:"success"`
	ImportID            string           `json:"importId,omitempty"`
	Summary             ExecutionSummary `json:"summary"`
	ImportedAnimals     []ImportedAnimal `json:"importedAnimals"`
	UpdatedAnimals      []ImportedAnimal `json:"updatedAnimals"`
	SkippedRows         []SkippedRow     `json:"skippedRows"`
	PlaceholdersCreated []CreatedRecord  `json:"placeholdersCreated"`
	BreedsCreated       []CreatedRecord  `json:"breedsCreated"`
	Failure             *ExecuteFailure  `json:"failure,omitempty"`
	Replayed            bool             `json:"replayed,omitempty"`
}

// ExecutionSummary counts committed rows. Imported+Updated+Skipped covers
// every valid and warning row; Errors equals the preview's error rows.
type ExecutionSummary struct {
	Imported int `json:"imported"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// ImportedAnimal identifies a created or updated animal by source row.
type ImportedAnimal struct {
	RowNumber int    `json:"rowNumber"`
	AnimalID  int64  `json:"animalId"`
	Name      string `json:"name"`
}

// SkippedRow records why a row was not written.
type SkippedRow struct {
	RowNumber int    `json:"rowNumber"`
	Reason    string `json:"reason"`
}

// CreatedRecord is a placeholder animal or custom breed created during commit.
type CreatedRecord struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Species Species `json:"species"`
}

// ExecuteFailure describes why a commit was rolled back.
type ExecuteFailure struct {
	RowNumber int    `json:"rowNumber,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Action    string `json:"action,omitempty"`
}

// ImportRecord is the persisted outcome of an idempotent execute.
type ImportRecord struct {
	ID             uuid.UUID
	TenantID       string
	IdempotencyKey string
	FileSHA256     string
	Result         ImportExecutionResult
	IPAddress      string
	UserAgent      string
	CreatedAt      time.Time
}
