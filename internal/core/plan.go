package core

// plan.go turns classified rows plus decisions into MutationPlans and orders
// them for commit.
//
// Plans reference parents three ways: an existing animal id, another row of
// the same file, or a placeholder to be created. Row references form a
// dependency graph; plans are emitted in topological order with ties broken
// by row number, so a file without in-file references commits in file order.

import (
	"container/heap"
	"fmt"
	"sort"
	"strings"
)

// PlanOp is what a plan does to the registry.
type PlanOp string

const (
	OpCreate PlanOp = "create"
	OpUpdate PlanOp = "update"
	OpSkip   PlanOp = "skip"
)

// Skip reasons reported in ImportExecutionResult.SkippedRows.
const (
	SkipDuplicate  = "duplicate skipped"
	SkipUnresolved = "warning not resolved"
)

// RefKind says how a parent reference is settled at commit.
type RefKind int

const (
	RefNone RefKind = iota
	RefAnimal
	RefRow
	RefPlaceholder
)

// recordKey identifies a placeholder or custom breed within one batch.
// Placeholders also carry the parent field: a dam and a sire with the same
// name are two animals.
type recordKey struct {
	Species Species
	Name    string // normalized
	Field   ParentField
}

// ParentRef is an unresolved-until-commit parent reference.
type ParentRef struct {
	Kind     RefKind
	AnimalID int64
	Row      int
	key      recordKey
}

// BreedRef is an unresolved-until-commit breed reference.
type BreedRef struct {
	BreedID int64
	Custom  bool
	key     recordKey
}

// MutationPlan is the write one row asks for.
type MutationPlan struct {
	RowNumber  int
	Op         PlanOp
	TargetID   int64 // update target; for a skipped duplicate, the existing animal
	Record     ParsedRecord
	Dam        ParentRef
	Sire       ParentRef
	Breed      BreedRef
	SkipReason string
}

func (p MutationPlan) parent(field ParentField) ParentRef {
	if field == ParentDam {
		return p.Dam
	}
	return p.Sire
}

// namedRecord is a placeholder or custom breed to create, in first-use order.
type namedRecord struct {
	key      recordKey
	Name     string
	Sex      Sex // placeholders only: female for a dam, male for a sire
	FirstRow int
}

// batch is every plan of one execute plus the shared records they need.
type batch struct {
	plans        []MutationPlan
	placeholders []namedRecord
	customBreeds []namedRecord
}

// applyDecisions turns one row and its decisions into a plan. Valid rows become
// creates. A warning row whose primary finding has no decision is skipped.
// Secondary findings without a decision leave the reference empty.
func applyDecisions(row RowResult, d *rowDecisions) MutationPlan {
	plan := MutationPlan{RowNumber: row.RowNumber, Op: OpCreate}
	if row.Record != nil {
		plan.Record = *row.Record
	}

	if row.Status == RowWarning {
		if d.forFinding(row.Warning) == nil {
			plan.Op = OpSkip
			plan.SkipReason = SkipUnresolved
			if dup := row.links.Duplicate; dup != nil {
				plan.TargetID = dup.Match.ID
			}
			return plan
		}

		if dup := row.links.Duplicate; dup != nil {
			res := d.duplicate
			switch res.Action {
			case DuplicateSkip:
				plan.Op = OpSkip
				plan.SkipReason = SkipDuplicate
				plan.TargetID = dup.Match.ID
				return plan
			case DuplicateUpdate:
				plan.Op = OpUpdate
				plan.TargetID = res.ExistingAnimalID
			case DuplicateCreateNew:
				plan.Op = OpCreate
			}
		}
	}

	plan.Dam = parentRef(row, ParentDam, d)
	plan.Sire = parentRef(row, ParentSire, d)
	plan.Breed = breedRef(row, d)
	return plan
}

func parentRef(row RowResult, field ParentField, d *rowDecisions) ParentRef {
	link := row.links.Link(field)
	switch {
	case link.AnimalID != 0:
		return ParentRef{Kind: RefAnimal, AnimalID: link.AnimalID}
	case link.Row != 0:
		return ParentRef{Kind: RefRow, Row: link.Row}
	}

	issue := row.links.DamIssue
	if field == ParentSire {
		issue = row.links.SireIssue
	}
	if issue == nil {
		return ParentRef{}
	}
	res := d.forFinding(*issue)
	if res == nil {
		return ParentRef{}
	}
	switch res.ParentAction {
	case ParentLinkExisting:
		return ParentRef{Kind: RefAnimal, AnimalID: res.SelectedAnimalID}
	case ParentCreatePlaceholder:
		return ParentRef{
			Kind: RefPlaceholder,
			key:  recordKey{Species: row.Record.Species, Name: NormalizeName(issue.Name), Field: field},
		}
	}
	return ParentRef{}
}

func breedRef(row RowResult, d *rowDecisions) BreedRef {
	if row.links.BreedID != 0 {
		return BreedRef{BreedID: row.links.BreedID}
	}
	issue := row.links.BreedIssue
	if issue == nil {
		return BreedRef{}
	}
	res := d.forFinding(*issue)
	if res == nil {
		return BreedRef{}
	}
	switch res.BreedAction {
	case BreedSelect:
		return BreedRef{BreedID: res.SelectedBreedID}
	case BreedCreateCustom:
		return BreedRef{
			Custom: true,
			key:    recordKey{Species: row.Record.Species, Name: NormalizeName(res.CustomBreedName)},
		}
	}
	return BreedRef{}
}

// buildBatch plans every non-error row in file order and collects the
// placeholders and custom breeds they share.
func buildBatch(rows []RowResult, decisions map[int]*rowDecisions) batch {
	var b batch
	seenPlaceholder := make(map[recordKey]bool)
	seenBreed := make(map[recordKey]bool)

	for _, row := range rows {
		if row.Status == RowError {
			continue
		}
		d := decisions[row.RowNumber]
		plan := applyDecisions(row, d)
		b.plans = append(b.plans, plan)
		if plan.Op == OpSkip {
			continue
		}

		for _, field := range []ParentField{ParentDam, ParentSire} {
			ref := plan.parent(field)
			if ref.Kind != RefPlaceholder || seenPlaceholder[ref.key] {
				continue
			}
			seenPlaceholder[ref.key] = true
			sex := SexFemale
			if field == ParentSire {
				sex = SexMale
			}
			b.placeholders = append(b.placeholders, namedRecord{
				key:      ref.key,
				Name:     collapseSpaces(plan.Record.parentName(field)),
				Sex:      sex,
				FirstRow: plan.RowNumber,
			})
		}

		if plan.Breed.Custom && !seenBreed[plan.Breed.key] {
			seenBreed[plan.Breed.key] = true
			b.customBreeds = append(b.customBreeds, namedRecord{
				key:      plan.Breed.key,
				Name:     collapseSpaces(d.breed.CustomBreedName),
				FirstRow: plan.RowNumber,
			})
		}
	}
	return b
}

// CycleError reports rows whose in-file parent references form a cycle.
type CycleError struct {
	Rows []int
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Rows))
	for i, r := range e.Rows {
		parts[i] = fmt.Sprint(r)
	}
	return "dependency cycle between rows " + strings.Join(parts, ", ")
}

// rowHeap is a min-heap of row numbers.
type rowHeap []int

func (h rowHeap) Len() int           { return len(h) }
func (h rowHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h rowHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *rowHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *rowHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// orderPlans sorts plans so every row referenced as a parent commits before
// the rows referencing it. Only writing plans depend on their parents;
// skipped rows never wait.
func orderPlans(plans []MutationPlan) ([]MutationPlan, error) {
	byRow := make(map[int]MutationPlan, len(plans))
	indegree := make(map[int]int, len(plans))
	children := make(map[int][]int)

	for _, p := range plans {
		byRow[p.RowNumber] = p
		indegree[p.RowNumber] = 0
	}
	for _, p := range plans {
		if p.Op == OpSkip {
			continue
		}
		for _, ref := range []ParentRef{p.Dam, p.Sire} {
			if ref.Kind != RefRow {
				continue
			}
			if _, ok := byRow[ref.Row]; !ok {
				continue
			}
			children[ref.Row] = append(children[ref.Row], p.RowNumber)
			indegree[p.RowNumber]++
		}
	}

	ready := &rowHeap{}
	for row, n := range indegree {
		if n == 0 {
			*ready = append(*ready, row)
		}
	}
	heap.Init(ready)

	ordered := make([]MutationPlan, 0, len(plans))
	for ready.Len() > 0 {
		row := heap.Pop(ready).(int)
		ordered = append(ordered, byRow[row])
		for _, child := range children[row] {
			indegree[child]--
			if indegree[child] == 0 {
				heap.Push(ready, child)
			}
		}
	}

	if len(ordered) < len(plans) {
		var stuck []int
		for row, n := range indegree {
			if n > 0 {
				stuck = append(stuck, row)
			}
		}
		sort.Ints(stuck)
		return nil, &CycleError{Rows: stuck}
	}
	return ordered, nil
}
