package core

// resolution.go matches human decisions to the findings of a re-run preview
// and turns every row into a MutationPlan.
//
// A resolution addresses one finding of one warning row, keyed by row
// number, finding kind and (for parents) the parent field. Any resolution
// that does not fit the row it names rejects the whole batch: the client is
// working from a stale or different preview and nothing should be written.

import (
	"fmt"
	"strings"
)

// DuplicateAction resolves a duplicate finding.
type DuplicateAction string

const (
	DuplicateUpdate    DuplicateAction = "update"
	DuplicateSkip      DuplicateAction = "skip"
	DuplicateCreateNew DuplicateAction = "create_new"
)

// ParentAction resolves a parent_not_found finding.
type ParentAction string

const (
	ParentLinkExisting      ParentAction = "link"
	ParentSkip              ParentAction = "skip"
	ParentCreatePlaceholder ParentAction = "create_placeholder"
)

// BreedAction resolves a breed_not_found finding.
type BreedAction string

const (
	BreedSelect       BreedAction = "select"
	BreedCreateCustom BreedAction = "create_custom"
	BreedSkip         BreedAction = "skip"
)

// RowResolution is one human decision as sent by the client. Exactly one of
// Action, ParentAction or BreedAction is set.
type RowResolution struct {
	RowNumber int `json:"rowNumber"`

	Action           DuplicateAction `json:"action,omitempty"`
	ExistingAnimalID int64           `json:"existingAnimalId,omitempty"`

	ParentField      ParentField  `json:"parentField,omitempty"`
	ParentAction     ParentAction `json:"parentAction,omitempty"`
	SelectedAnimalID int64        `json:"selectedAnimalId,omitempty"`

	BreedAction     BreedAction `json:"breedAction,omitempty"`
	SelectedBreedID int64       `json:"selectedBreedId,omitempty"`
	CustomBreedName string      `json:"customBreedName,omitempty"`
}

// ResolutionError rejects the whole resolution set.
type ResolutionError struct {
	RowNumber int
	Reason    string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolution mismatch for row %d: %s", e.RowNumber, e.Reason)
}

func mismatch(row int, format string, args ...any) *ResolutionError {
	return &ResolutionError{RowNumber: row, Reason: fmt.Sprintf(format, args...)}
}

// kind reports which finding the resolution addresses.
func (r RowResolution) kind() (WarningType, error) {
	var kinds []WarningType
	if r.Action != "" || r.ExistingAnimalID != 0 {
		kinds = append(kinds, WarningDuplicate)
	}
	if r.ParentAction != "" || r.ParentField != "" || r.SelectedAnimalID != 0 {
		kinds = append(kinds, WarningParentNotFound)
	}
	if r.BreedAction != "" || r.SelectedBreedID != 0 || r.CustomBreedName != "" {
		kinds = append(kinds, WarningBreedNotFound)
	}
	if len(kinds) != 1 {
		return "", mismatch(r.RowNumber, "resolution must carry exactly one of action, parentAction or breedAction")
	}
	return kinds[0], nil
}

// checkShape validates the action and its required companion field.
func (r RowResolution) checkShape(kind WarningType) error {
	switch kind {
	case WarningDuplicate:
		switch r.Action {
		case DuplicateUpdate:
			if r.ExistingAnimalID <= 0 {
				return mismatch(r.RowNumber, "update requires existingAnimalId")
			}
		case DuplicateSkip, DuplicateCreateNew:
		default:
			return mismatch(r.RowNumber, "unknown duplicate action %q", r.Action)
		}
	case WarningParentNotFound:
		switch r.ParentAction {
		case ParentLinkExisting:
			if r.SelectedAnimalID <= 0 {
				return mismatch(r.RowNumber, "link requires selectedAnimalId")
			}
		case ParentSkip, ParentCreatePlaceholder:
		default:
			return mismatch(r.RowNumber, "unknown parent action %q", r.ParentAction)
		}
		if r.ParentField != "" && r.ParentField != ParentDam && r.ParentField != ParentSire {
			return mismatch(r.RowNumber, "unknown parent field %q", r.ParentField)
		}
	case WarningBreedNotFound:
		switch r.BreedAction {
		case BreedSelect:
			if r.SelectedBreedID <= 0 {
				return mismatch(r.RowNumber, "select requires selectedBreedId")
			}
		case BreedCreateCustom:
			if strings.TrimSpace(r.CustomBreedName) == "" {
				return mismatch(r.RowNumber, "create_custom requires customBreedName")
			}
			if len([]rune(collapseSpaces(r.CustomBreedName))) > MaxNameLength {
				return mismatch(r.RowNumber, "customBreedName too long")
			}
		case BreedSkip:
		default:
			return mismatch(r.RowNumber, "unknown breed action %q", r.BreedAction)
		}
	}
	return nil
}

// rowDecisions are the resolutions matched to one row's findings.
type rowDecisions struct {
	duplicate *RowResolution
	dam       *RowResolution
	sire      *RowResolution
	breed     *RowResolution
}

// forFinding returns the decision for a finding, or nil if none was sent.
func (d *rowDecisions) forFinding(f Finding) *RowResolution {
	if d == nil {
		return nil
	}
	switch v := f.(type) {
	case DuplicateFinding:
		return d.duplicate
	case ParentNotFoundFinding:
		if v.Field == ParentDam {
			return d.dam
		}
		return d.sire
	case BreedNotFoundFinding:
		return d.breed
	}
	return nil
}

func (d *rowDecisions) slot(kind WarningType, field ParentField) **RowResolution {
	switch kind {
	case WarningDuplicate:
		return &d.duplicate
	case WarningParentNotFound:
		if field == ParentDam {
			return &d.dam
		}
		return &d.sire
	default:
		return &d.breed
	}
}

// matchResolutions pairs every resolution with the finding it addresses.
func matchResolutions(rows []RowResult, resolutions []RowResolution) (map[int]*rowDecisions, error) {
	byNumber := make(map[int]*RowResult, len(rows))
	for i := range rows {
		byNumber[rows[i].RowNumber] = &rows[i]
	}

	out := make(map[int]*rowDecisions)
	for i := range resolutions {
		res := resolutions[i]

		row, ok := byNumber[res.RowNumber]
		if !ok {
			return nil, mismatch(res.RowNumber, "row does not exist in the file")
		}
		if row.Status != RowWarning {
			return nil, mismatch(res.RowNumber, "row is %s and has nothing to resolve", row.Status)
		}

		kind, err := res.kind()
		if err != nil {
			return nil, err
		}
		if err := res.checkShape(kind); err != nil {
			return nil, err
		}

		field, err := matchFinding(row, kind, res)
		if err != nil {
			return nil, err
		}
		res.ParentField = field

		d, ok := out[res.RowNumber]
		if !ok {
			d = &rowDecisions{}
			out[res.RowNumber] = d
		}
		slot := d.slot(kind, field)
		if *slot != nil {
			return nil, mismatch(res.RowNumber, "more than one resolution for its %s warning", describe(kind, field))
		}
		*slot = &res
	}
	return out, nil
}

// matchFinding checks the row raised the finding the resolution targets and
// returns the parent field it concerns. A parent resolution without a field
// is accepted when the row has exactly one parent finding.
func matchFinding(row *RowResult, kind WarningType, res RowResolution) (ParentField, error) {
	var parents []ParentField
	found := false
	for _, f := range row.Findings {
		if f.Type() != kind {
			continue
		}
		found = true
		if p, ok := f.(ParentNotFoundFinding); ok {
			parents = append(parents, p.Field)
		}
	}
	if !found {
		return "", mismatch(res.RowNumber, "row has no %s warning", kind)
	}
	if kind != WarningParentNotFound {
		return "", nil
	}

	if res.ParentField == "" {
		if len(parents) != 1 {
			return "", mismatch(res.RowNumber, "parentField is required when both dam and sire are unresolved")
		}
		return parents[0], nil
	}
	for _, p := range parents {
		if p == res.ParentField {
			return p, nil
		}
	}
	return "", mismatch(res.RowNumber, "row has no parent_not_found warning for %s", res.ParentField)
}

func describe(kind WarningType, field ParentField) string {
	if kind == WarningParentNotFound {
		return fmt.Sprintf("%s (%s)", kind, field)
	}
	return string(kind)
}
