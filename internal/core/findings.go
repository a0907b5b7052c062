package core

import (
	"encoding/json"
)

// WarningType names an actionable ambiguity on a preview row.
type WarningType string

const (
	WarningDuplicate      WarningType = "duplicate"
	WarningParentNotFound WarningType = "parent_not_found"
	WarningBreedNotFound  WarningType = "breed_not_found"
)

// Finding is one ambiguity the resolver raised for a row. The concrete types
// are DuplicateFinding, ParentNotFoundFinding and BreedNotFoundFinding.
type Finding interface {
	Type() WarningType
	finding()
}

// DuplicateFinding reports an existing animal that looks like the row.
type DuplicateFinding struct {
	Match     AnimalSummary `json:"duplicateMatch"`
	MatchedOn string        `json:"matchedOn"` // "microchip" or "name"
}

// ParentNotFoundFinding reports a Dam or Sire name that could not be linked.
type ParentNotFoundFinding struct {
	Field       ParentField        `json:"parentField"`
	Name        string             `json:"parentName"`
	Suggestions []ParentSuggestion `json:"parentSuggestions"`
}

// BreedNotFoundFinding reports a breed name unknown for the species.
type BreedNotFoundFinding struct {
	Breed       string            `json:"breedName"`
	Suggestions []BreedSuggestion `json:"breedSuggestions"`
}

func (DuplicateFinding) Type() WarningType      { return WarningDuplicate }
func (ParentNotFoundFinding) Type() WarningType { return WarningParentNotFound }
func (BreedNotFoundFinding) Type() WarningType  { return WarningBreedNotFound }

func (DuplicateFinding) finding()      {}
func (ParentNotFoundFinding) finding() {}
func (BreedNotFoundFinding) finding()  {}

// MarshalJSON tags the payload with its warning type.
func (f DuplicateFinding) MarshalJSON() ([]byte, error) {
	type payload DuplicateFinding
	return json.Marshal(struct {
		Type WarningType `json:"type"`
		payload
	}{f.Type(), payload(f)})
}

// MarshalJSON tags the payload with its warning type.
func (f ParentNotFoundFinding) MarshalJSON() ([]byte, error) {
	type payload ParentNotFoundFinding
	return json.Marshal(struct {
		Type WarningType `json:"type"`
		payload
	}{f.Type(), payload(f)})
}

// MarshalJSON tags the payload with its warning type.
func (f BreedNotFoundFinding) MarshalJSON() ([]byte, error) {
	type payload BreedNotFoundFinding
	return json.Marshal(struct {
		Type WarningType `json:"type"`
		payload
	}{f.Type(), payload(f)})
}

// ParentSuggestion is a candidate parent ranked by MatchScore (0..1).
type ParentSuggestion struct {
	AnimalID   int64   `json:"animalId"`
	Name       string  `json:"name"`
	Sex        Sex     `json:"sex,omitempty"`
	Breed      string  `json:"breed,omitempty"`
	MatchScore float64 `json:"matchScore"`
}

// BreedSuggestion is a candidate breed ranked by MatchScore (0..1).
type BreedSuggestion struct {
	BreedID    int64   `json:"breedId"`
	Name       string  `json:"name"`
	MatchScore float64 `json:"matchScore"`
}

// ParentLink is how a supplied parent name was settled without a human.
// AnimalID is an existing registry animal; Row is another row of the same
// file. Both zero means the name was absent or unresolved.
type ParentLink struct {
	AnimalID int64
	Row      int
}

// Findings is the resolver's output for one record.
type Findings struct {
	Duplicate *DuplicateFinding

	Dam       ParentLink
	Sire      ParentLink
	DamIssue  *ParentNotFoundFinding
	SireIssue *ParentNotFoundFinding

	BreedID    int64
	BreedIssue *BreedNotFoundFinding
}

// Link returns the silent resolution for a parent field.
func (f Findings) Link(field ParentField) ParentLink {
	if field == ParentDam {
		return f.Dam
	}
	return f.Sire
}

// List returns the raised findings in precedence order:
// duplicate, dam, sire, breed.
func (f Findings) List() []Finding {
	var out []Finding
	if f.Duplicate != nil {
		out = append(out, *f.Duplicate)
	}
	if f.DamIssue != nil {
		out = append(out, *f.DamIssue)
	}
	if f.SireIssue != nil {
		out = append(out, *f.SireIssue)
	}
	if f.BreedIssue != nil {
		out = append(out, *f.BreedIssue)
	}
	return out
}

// RowResult is the classification of one row. It is immutable once returned
// from a preview.
type RowResult struct {
	RowNumber int
	Status    RowStatus
	Record    *ParsedRecord
	Warning   Finding   // primary finding, nil unless Status is warning
	Findings  []Finding // every finding, primary first
	Errors    []string

	links Findings
}

type rowResultJSON struct {
	RowNumber         int                `json:"rowNumber"`
	Status            RowStatus          `json:"status"`
	Data              *ParsedRecord      `json:"data,omitempty"`
	WarningType       WarningType        `json:"warningType,omitempty"`
	ParentField       ParentField        `json:"parentField,omitempty"`
	DuplicateMatch    *AnimalSummary     `json:"duplicateMatch,omitempty"`
	ParentSuggestions []ParentSuggestion `json:"parentSuggestions,omitempty"`
	BreedSuggestions  []BreedSuggestion  `json:"breedSuggestions,omitempty"`
	Findings          []Finding          `json:"findings,omitempty"`
	Errors            []string           `json:"errors,omitempty"`
}

// MarshalJSON flattens the primary finding into the row the way clients
// render it, and lists all findings for clients that resolve each one.
func (r RowResult) MarshalJSON() ([]byte, error) {
	out := rowResultJSON{
		RowNumber: r.RowNumber,
		Status:    r.Status,
		Data:      r.Record,
		Findings:  r.Findings,
		Errors:    r.Errors,
	}
	switch w := r.Warning.(type) {
	case DuplicateFinding:
		out.WarningType = w.Type()
		m := w.Match
		out.DuplicateMatch = &m
	case ParentNotFoundFinding:
		out.WarningType = w.Type()
		out.ParentField = w.Field
		out.ParentSuggestions = w.Suggestions
	case BreedNotFoundFinding:
		out.WarningType = w.Type()
		out.BreedSuggestions = w.Suggestions
	}
	return json.Marshal(out)
}
