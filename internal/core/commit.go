package core

// commit.go is the execute phase. Inside one store transaction, holding the
// tenant's commit lock, it re-runs the preview on the re-supplied file,
// matches the resolutions to the fresh findings, plans every row and writes
// the whole batch.
//
// Nothing is written unless every plan succeeds. Shared records go first:
// custom breeds, then placeholders, then rows in dependency order.

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/herdbook/internal/logging"
	"github.com/google/uuid"
)

var (
	// ErrIdempotencyConflict is returned when an idempotency key is reused
	// with a different file.
	ErrIdempotencyConflict = errors.New("idempotency key already used with a different file")

	// ErrInvalidReference marks a plan whose target, parent or breed cannot
	// be used: missing, another species, or the animal itself.
	ErrInvalidReference = errors.New("invalid reference")

	// ErrIdempotencyKeyTooLong rejects keys over MaxIdempotencyKeyLength.
	ErrIdempotencyKeyTooLong = errors.New("idempotencyKey is too long")

	errReplay = errors.New("replay recorded import")
)

// MaxIdempotencyKeyLength bounds client supplied idempotency keys.
const MaxIdempotencyKeyLength = 200

// ExecuteRequest is the input of the execute phase.
type ExecuteRequest struct {
	FileContent    []byte
	Resolutions    []RowResolution
	IdempotencyKey string
}

// CommitError is a failure while writing one row or shared record. The whole
// batch is rolled back.
type CommitError struct {
	RowNumber int
	Err       error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("row %d: %v", e.RowNumber, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// Execute commits a resolved file.
//
// Decode, scope and limiter failures return a nil result. Resolution
// mismatches, dependency cycles and commit failures return a result with
// Success false describing the failure, alongside the error.
func (s *Service) Execute(ctx context.Context, scope Scope, req ExecuteRequest) (*ImportExecutionResult, error) {
	if !scope.Valid() {
		return nil, ErrMissingTenant
	}
	if len(req.IdempotencyKey) > MaxIdempotencyKeyLength {
		return nil, ErrIdempotencyKeyTooLong
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	logger := logging.FromContext(ctx)
	start := time.Now()

	c := &commit{
		scope:        scope,
		importID:     uuid.New(),
		key:          req.IdempotencyKey,
		fileHash:     hashFile(req.FileContent),
		rowIDs:       make(map[int]int64),
		placeholders: make(map[recordKey]int64),
		breeds:       make(map[recordKey]int64),
		result:       newResult(),
	}

	// The file is analyzed again inside the transaction, so duplicate and
	// parent decisions see every commit that finished before this one.
	// A started commit runs to completion or rollback regardless of the caller.
	commitCtx := context.WithoutCancel(ctx)
	analyzed := false
	err := s.store.WithTx(commitCtx, scope, func(tx Tx) error {
		c.tx = tx
		if err := c.checkReplay(commitCtx); err != nil {
			return err
		}

		rows, err := s.analyze(ctx, scope, tx, req.FileContent)
		if err != nil {
			return err
		}
		analyzed = true

		decisions, err := matchResolutions(rows, req.Resolutions)
		if err != nil {
			return err
		}
		b := buildBatch(rows, decisions)
		if b.plans, err = orderPlans(b.plans); err != nil {
			return err
		}
		return c.run(commitCtx, b, summarize(rows).ErrorRows)
	})

	var (
		re *ResolutionError
		ce *CycleError
	)
	switch {
	case err == nil:
	case errors.Is(err, errReplay):
		logger.Info("import replayed", "tenant", scope.TenantID, "import_id", c.replay.ImportID)
		return c.replay, nil
	case errors.Is(err, ErrIdempotencyConflict), !analyzed:
		return nil, err
	case errors.As(err, &re):
		logger.Warn("import resolutions rejected", "tenant", scope.TenantID, "error", err)
		return failedResult(re.RowNumber, err), err
	case errors.As(err, &ce):
		row := 0
		if len(ce.Rows) > 0 {
			row = ce.Rows[0]
		}
		logger.Warn("import dependency cycle", "tenant", scope.TenantID, "error", err)
		return failedResult(row, err), err
	}
	if err != nil {
		row := 0
		var cerr *CommitError
		if errors.As(err, &cerr) {
			row = cerr.RowNumber
		}
		logger.Error("import commit failed",
			"tenant", scope.TenantID,
			"row", row,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return failedResult(row, err), err
	}

	logger.Info("import committed",
		"tenant", scope.TenantID,
		"import_id", c.result.ImportID,
		"imported", c.result.Summary.Imported,
		"updated", c.result.Summary.Updated,
		"skipped", c.result.Summary.Skipped,
		"errors", c.result.Summary.Errors,
		"placeholders", len(c.result.PlaceholdersCreated),
		"breeds", len(c.result.BreedsCreated),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return c.result, nil
}

func replayOf(rec ImportRecord, fileHash string) (*ImportExecutionResult, error) {
	if rec.FileSHA256 != fileHash {
		return nil, ErrIdempotencyConflict
	}
	res := rec.Result
	res.Replayed = true
	return &res, nil
}

func hashFile(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newResult() *ImportExecutionResult {
	return &ImportExecutionResult{
		ImportedAnimals:     []ImportedAnimal{},
		UpdatedAnimals:      []ImportedAnimal{},
		SkippedRows:         []SkippedRow{},
		PlaceholdersCreated: []CreatedRecord{},
		BreedsCreated:       []CreatedRecord{},
	}
}

func failedResult(row int, err error) *ImportExecutionResult {
	msg := MapError(err)
	res := newResult()
	res.Failure = &ExecuteFailure{
		RowNumber: row,
		Code:      msg.Code,
		Message:   msg.Message,
		Action:    msg.Action,
	}
	return res
}

// commit holds the state of one execute transaction.
type commit struct {
	tx       Tx
	scope    Scope
	importID uuid.UUID
	key      string
	fileHash string

	rowIDs       map[int]int64
	placeholders map[recordKey]int64
	breeds       map[recordKey]int64

	result *ImportExecutionResult
	replay *ImportExecutionResult
}

// checkReplay returns errReplay, with c.replay set, when the idempotency key
// was already committed for the same file.
func (c *commit) checkReplay(ctx context.Context) error {
	if c.key == "" {
		return nil
	}
	rec, err := c.tx.GetImport(ctx, c.scope, c.key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get import: %w", err)
	}
	res, err := replayOf(rec, c.fileHash)
	if err != nil {
		return err
	}
	c.replay = res
	return errReplay
}

func (c *commit) run(ctx context.Context, b batch, errorRows int) error {
	for _, nr := range b.customBreeds {
		if err := c.customBreed(ctx, nr); err != nil {
			return err
		}
	}
	for _, nr := range b.placeholders {
		if err := c.placeholder(ctx, nr); err != nil {
			return err
		}
	}
	for _, plan := range b.plans {
		var err error
		switch plan.Op {
		case OpSkip:
			c.skip(plan)
		case OpCreate:
			err = c.create(ctx, plan)
		case OpUpdate:
			err = c.update(ctx, plan)
		}
		if err != nil {
			return err
		}
	}

	res := c.result
	res.Success = true
	res.ImportID = c.importID.String()
	res.Summary = ExecutionSummary{
		Imported: len(res.ImportedAnimals),
		Updated:  len(res.UpdatedAnimals),
		Skipped:  len(res.SkippedRows),
		Errors:   errorRows,
	}

	if c.key != "" {
		err := c.tx.SaveImport(ctx, c.scope, ImportRecord{
			ID:             c.importID,
			TenantID:       c.scope.TenantID,
			IdempotencyKey: c.key,
			FileSHA256:     c.fileHash,
			Result:         *res,
			IPAddress:      GetIPAddressFromContext(ctx),
			UserAgent:      GetUserAgentFromContext(ctx),
		})
		if err != nil {
			return fmt.Errorf("save import: %w", err)
		}
	}
	return nil
}

// customBreed reuses a breed with the same name or creates it.
func (c *commit) customBreed(ctx context.Context, nr namedRecord) error {
	existing, err := c.tx.FindBreedByName(ctx, c.scope, nr.key.Species, nr.Name)
	if err == nil {
		c.breeds[nr.key] = existing.ID
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return &CommitError{RowNumber: nr.FirstRow, Err: fmt.Errorf("find breed: %w", err)}
	}

	created, err := c.tx.CreateBreed(ctx, c.scope, nr.key.Species, nr.Name)
	if err != nil {
		return &CommitError{RowNumber: nr.FirstRow, Err: fmt.Errorf("create breed: %w", err)}
	}
	c.breeds[nr.key] = created.ID
	c.result.BreedsCreated = append(c.result.BreedsCreated, CreatedRecord{
		ID: created.ID, Name: created.Name, Species: created.Species,
	})
	return nil
}

// placeholder links to an existing animal with the exact name or creates a
// placeholder for it. An animal of the opposite sex, or one already linked
// for the other parent field, is never reused.
func (c *commit) placeholder(ctx context.Context, nr namedRecord) error {
	existing, err := c.tx.FindAnimalsByName(ctx, c.scope, nr.key.Species, nr.Name)
	if err != nil {
		return &CommitError{RowNumber: nr.FirstRow, Err: fmt.Errorf("find animal: %w", err)}
	}
	other := nr.key
	other.Field = ParentDam
	if nr.key.Field == ParentDam {
		other.Field = ParentSire
	}
	claimed, hasClaim := c.placeholders[other]
	var candidates []Animal
	for _, a := range existing {
		if (a.Sex == nr.Sex || a.Sex == SexUnknown) && !(hasClaim && a.ID == claimed) {
			candidates = append(candidates, a)
		}
	}
	if a, ok := mostRecent(candidates); ok {
		c.placeholders[nr.key] = a.ID
		return nil
	}

	created, err := c.tx.CreateAnimal(ctx, c.scope, AnimalInput{
		Record:        ParsedRecord{Name: nr.Name, Species: nr.key.Species, Sex: nr.Sex},
		IsPlaceholder: true,
		ImportID:      c.importID,
	})
	if err != nil {
		return &CommitError{RowNumber: nr.FirstRow, Err: fmt.Errorf("create placeholder: %w", err)}
	}
	c.placeholders[nr.key] = created.ID
	c.result.PlaceholdersCreated = append(c.result.PlaceholdersCreated, CreatedRecord{
		ID: created.ID, Name: created.Name, Species: created.Species,
	})
	return nil
}

func (c *commit) skip(plan MutationPlan) {
	if plan.TargetID != 0 {
		c.rowIDs[plan.RowNumber] = plan.TargetID
	}
	c.result.SkippedRows = append(c.result.SkippedRows, SkippedRow{
		RowNumber: plan.RowNumber,
		Reason:    plan.SkipReason,
	})
}

func (c *commit) create(ctx context.Context, plan MutationPlan) error {
	in, err := c.input(ctx, plan)
	if err != nil {
		return err
	}
	a, err := c.tx.CreateAnimal(ctx, c.scope, in)
	if err != nil {
		return &CommitError{RowNumber: plan.RowNumber, Err: fmt.Errorf("create animal: %w", err)}
	}
	c.rowIDs[plan.RowNumber] = a.ID
	c.result.ImportedAnimals = append(c.result.ImportedAnimals, ImportedAnimal{
		RowNumber: plan.RowNumber, AnimalID: a.ID, Name: a.Name,
	})
	return nil
}

// update overwrites the target with every non-empty field of the row. A
// placeholder that receives a full row stops being a placeholder.
func (c *commit) update(ctx context.Context, plan MutationPlan) error {
	target, err := c.tx.GetAnimal(ctx, c.scope, plan.TargetID)
	if errors.Is(err, ErrNotFound) {
		return &CommitError{RowNumber: plan.RowNumber, Err: fmt.Errorf("%w: animal %d does not exist", ErrInvalidReference, plan.TargetID)}
	}
	if err != nil {
		return &CommitError{RowNumber: plan.RowNumber, Err: fmt.Errorf("get animal: %w", err)}
	}
	if target.Species != plan.Record.Species {
		return &CommitError{RowNumber: plan.RowNumber, Err: fmt.Errorf("%w: animal %d is a %s, row is a %s", ErrInvalidReference, target.ID, target.Species, plan.Record.Species)}
	}

	in, err := c.input(ctx, plan)
	if err != nil {
		return err
	}
	if in.DamID == target.ID || in.SireID == target.ID {
		return &CommitError{RowNumber: plan.RowNumber, Err: fmt.Errorf("%w: animal cannot be its own parent", ErrInvalidReference)}
	}

	in.Record = mergeRecord(target, plan.Record)
	if in.BreedID == 0 {
		in.BreedID = target.BreedID
	}
	if in.DamID == 0 {
		in.DamID = target.DamID
	}
	if in.SireID == 0 {
		in.SireID = target.SireID
	}
	in.IsPlaceholder = false

	a, err := c.tx.UpdateAnimal(ctx, c.scope, target.ID, in)
	if err != nil {
		return &CommitError{RowNumber: plan.RowNumber, Err: fmt.Errorf("update animal: %w", err)}
	}
	c.rowIDs[plan.RowNumber] = a.ID
	c.result.UpdatedAnimals = append(c.result.UpdatedAnimals, ImportedAnimal{
		RowNumber: plan.RowNumber, AnimalID: a.ID, Name: a.Name,
	})
	return nil
}

// input settles the plan's references into ids.
func (c *commit) input(ctx context.Context, plan MutationPlan) (AnimalInput, error) {
	in := AnimalInput{Record: plan.Record, ImportID: c.importID}

	var err error
	if in.DamID, err = c.parentID(ctx, plan, ParentDam); err != nil {
		return in, err
	}
	if in.SireID, err = c.parentID(ctx, plan, ParentSire); err != nil {
		return in, err
	}
	if in.DamID != 0 && in.DamID == in.SireID {
		return in, &CommitError{RowNumber: plan.RowNumber, Err: fmt.Errorf("%w: animal %d cannot be both dam and sire", ErrInvalidReference, in.DamID)}
	}
	if in.BreedID, err = c.breedID(ctx, plan); err != nil {
		return in, err
	}
	return in, nil
}

func (c *commit) parentID(ctx context.Context, plan MutationPlan, field ParentField) (int64, error) {
	ref := plan.parent(field)
	switch ref.Kind {
	case RefRow:
		// A row that was skipped without an existing match leaves the link empty.
		return c.rowIDs[ref.Row], nil
	case RefPlaceholder:
		return c.placeholders[ref.key], nil
	case RefAnimal:
		a, err := c.tx.GetAnimal(ctx, c.scope, ref.AnimalID)
		if errors.Is(err, ErrNotFound) {
			return 0, &CommitError{RowNumber: plan.RowNumber, Err: fmt.Errorf("%w: %s %d does not exist", ErrInvalidReference, field, ref.AnimalID)}
		}
		if err != nil {
			return 0, &CommitError{RowNumber: plan.RowNumber, Err: fmt.Errorf("get %s: %w", field, err)}
		}
		if a.Species != plan.Record.Species {
			return 0, &CommitError{RowNumber: plan.RowNumber, Err: fmt.Errorf("%w: %s %d is a %s", ErrInvalidReference, field, a.ID, a.Species)}
		}
		return a.ID, nil
	}
	return 0, nil
}

func (c *commit) breedID(ctx context.Context, plan MutationPlan) (int64, error) {
	ref := plan.Breed
	if ref.Custom {
		return c.breeds[ref.key], nil
	}
	if ref.BreedID == 0 {
		return 0, nil
	}
	b, err := c.tx.GetBreed(ctx, c.scope, ref.BreedID)
	if errors.Is(err, ErrNotFound) {
		return 0, &CommitError{RowNumber: plan.RowNumber, Err: fmt.Errorf("%w: breed %d does not exist", ErrInvalidReference, ref.BreedID)}
	}
	if err != nil {
		return 0, &CommitError{RowNumber: plan.RowNumber, Err: fmt.Errorf("get breed: %w", err)}
	}
	if b.Species != plan.Record.Species {
		return 0, &CommitError{RowNumber: plan.RowNumber, Err: fmt.Errorf("%w: breed %q is for %s", ErrInvalidReference, b.Name, b.Species)}
	}
	return b.ID, nil
}

// mergeRecord overlays the non-empty fields of rec on the existing animal.
func mergeRecord(existing Animal, rec ParsedRecord) ParsedRecord {
	out := ParsedRecord{
		Name:           existing.Name,
		Species:        existing.Species,
		Sex:            existing.Sex,
		BirthDate:      existing.BirthDate,
		Microchip:      existing.Microchip,
		Breed:          existing.BreedName,
		RegistryName:   existing.RegistryName,
		RegistryNumber: existing.RegistryNumber,
		Status:         existing.Status,
		Notes:          existing.Notes,
	}
	if rec.Name != "" {
		out.Name = rec.Name
	}
	if rec.Sex != "" && rec.Sex != SexUnknown {
		out.Sex = rec.Sex
	}
	if rec.BirthDate.Valid {
		out.BirthDate = rec.BirthDate
	}
	if rec.Microchip != "" {
		out.Microchip = rec.Microchip
	}
	if rec.Breed != "" {
		out.Breed = rec.Breed
	}
	if rec.RegistryName != "" {
		out.RegistryName = rec.RegistryName
	}
	if rec.RegistryNumber != "" {
		out.RegistryNumber = rec.RegistryNumber
	}
	if rec.Status != "" {
		out.Status = rec.Status
	}
	if rec.Notes != "" {
		out.Notes = rec.Notes
	}
	out.DamName = rec.DamName
	out.SireName = rec.SireName
	return out
}
