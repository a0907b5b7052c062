package core_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JonMunkholm/herdbook/internal/core"
	"github.com/JonMunkholm/herdbook/internal/store/memory"
)

var ranch = core.Scope{TenantID: "ranch"}

func newService(t *testing.T, store core.Store) *core.Service {
	t.Helper()
	svc, err := core.NewService(store, core.Options{MaxConcurrent: 4, MaxWaitTime: time.Second})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func csvFile(lines ...string) []byte {
	return []byte(strings.Join(lines, "\n") + "\n")
}

func rowByNumber(t *testing.T, p *core.ImportPreview, n int) core.RowResult {
	t.Helper()
	for _, r := range p.Rows {
		if r.RowNumber == n {
			return r
		}
	}
	t.Fatalf("preview has no row %d", n)
	return core.RowResult{}
}

func TestNewService_NilStore(t *testing.T) {
	if _, err := core.NewService(nil, core.Options{}); err == nil {
		t.Error("NewService(nil) error = nil, want error")
	}
}

func TestImport_Scenario(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Seed(ranch, core.Animal{ID: 42, Name: "Bella", Species: core.SpeciesDog, Sex: core.SexFemale})
	svc := newService(t, store)

	file := csvFile(
		"Name,Species,Sex,Breed",
		"Rex,dog,male,",
		"Bella,dog,female,",
		"Milo,dog,male,Xyz",
	)

	preview, err := svc.Preview(ctx, ranch, file)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	want := core.PreviewSummary{TotalRows: 3, ValidRows: 1, WarningRows: 2, ErrorRows: 0}
	if preview.Summary != want {
		t.Fatalf("Summary = %+v, want %+v", preview.Summary, want)
	}

	bella := rowByNumber(t, preview, 2)
	dup, ok := bella.Warning.(core.DuplicateFinding)
	if !ok || dup.Match.ID != 42 {
		t.Fatalf("row 2 warning = %#v, want duplicate of 42", bella.Warning)
	}
	milo := rowByNumber(t, preview, 3)
	if milo.Warning == nil || milo.Warning.Type() != core.WarningBreedNotFound {
		t.Fatalf("row 3 warning = %#v, want breed_not_found", milo.Warning)
	}

	res, err := svc.Execute(ctx, ranch, core.ExecuteRequest{
		FileContent: file,
		Resolutions: []core.RowResolution{
			{RowNumber: 2, Action: core.DuplicateSkip},
			{RowNumber: 3, BreedAction: core.BreedCreateCustom, CustomBreedName: "Xyz"},
		},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !res.Success {
		t.Fatalf("Success = false, failure = %+v", res.Failure)
	}

	// Rex and Milo are created; Bella is skipped.
	wantSum := core.ExecutionSummary{Imported: 2, Updated: 0, Skipped: 1, Errors: 0}
	if res.Summary != wantSum {
		t.Errorf("Summary = %+v, want %+v", res.Summary, wantSum)
	}
	if len(res.PlaceholdersCreated) != 0 {
		t.Errorf("PlaceholdersCreated = %v, want none", res.PlaceholdersCreated)
	}
	if len(res.BreedsCreated) != 1 || res.BreedsCreated[0].Name != "Xyz" {
		t.Errorf("BreedsCreated = %v, want Xyz", res.BreedsCreated)
	}
	if len(res.SkippedRows) != 1 || res.SkippedRows[0].RowNumber != 2 {
		t.Errorf("SkippedRows = %v, want row 2", res.SkippedRows)
	}

	var miloID int64
	for _, a := range res.ImportedAnimals {
		if a.Name == "Milo" {
			miloID = a.AnimalID
		}
	}
	for _, a := range store.Animals(ranch) {
		if a.ID == miloID && a.BreedName != "Xyz" {
			t.Errorf("Milo breed = %q, want Xyz", a.BreedName)
		}
	}
	if got := len(store.Animals(ranch)); got != 3 {
		t.Errorf("animals = %d, want 3", got)
	}
}

func TestPreview_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Seed(ranch, core.Animal{Name: "Duchess", Species: core.SpeciesGoat, Sex: core.SexFemale})
	svc := newService(t, store)

	file := csvFile(
		"Name,Species,Sex,Dam Name,Breed",
		"Willow,goat,female,Duches,Nubain",
		"Juniper,goat,male,,",
	)
	a, err := svc.Preview(ctx, ranch, file)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	b, err := svc.Preview(ctx, ranch, file)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}

	if a.Summary != b.Summary {
		t.Errorf("Summary differs: %+v vs %+v", a.Summary, b.Summary)
	}
	for i := range a.Rows {
		ra, rb := a.Rows[i], b.Rows[i]
		if ra.Status != rb.Status || len(ra.Findings) != len(rb.Findings) {
			t.Errorf("row %d differs: %+v vs %+v", ra.RowNumber, ra, rb)
		}
	}
	if got := len(store.Animals(ranch)); got != 1 {
		t.Errorf("Preview wrote to the store: %d animals", got)
	}

	willow := rowByNumber(t, a, 1)
	if len(willow.Findings) != 2 {
		t.Fatalf("Willow findings = %v, want parent and breed", willow.Findings)
	}
	parent, ok := willow.Warning.(core.ParentNotFoundFinding)
	if !ok || len(parent.Suggestions) == 0 || parent.Suggestions[0].Name != "Duchess" {
		t.Errorf("Willow warning = %#v, want Duchess suggested", willow.Warning)
	}
}

func TestPreview_RoundTripTemplate(t *testing.T) {
	svc := newService(t, memory.New())
	tmpl, err := core.TemplateCSV()
	if err != nil {
		t.Fatalf("TemplateCSV() error = %v", err)
	}
	p, err := svc.Preview(context.Background(), ranch, tmpl)
	if err != nil {
		t.Fatalf("Preview(template) error = %v", err)
	}
	if p.Summary.TotalRows != 1 || p.Summary.ErrorRows != 0 {
		t.Errorf("Summary = %+v, want one row without errors", p.Summary)
	}
	if r := p.Rows[0]; r.Record == nil || r.Record.Name != "Willow" {
		t.Errorf("row = %+v, want Willow", r)
	}
}

func TestPreview_MissingTenant(t *testing.T) {
	svc := newService(t, memory.New())
	_, err := svc.Preview(context.Background(), core.Scope{}, csvFile("Name,Species,Sex", "Rex,dog,male"))
	if !errors.Is(err, core.ErrMissingTenant) {
		t.Errorf("Preview() error = %v, want ErrMissingTenant", err)
	}
}

func TestPreview_MicrochipPicksMostRecent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	store.Seed(ranch, core.Animal{ID: 5, Name: "Old", Species: core.SpeciesDog, Microchip: "985112003", CreatedAt: old})
	store.Seed(ranch, core.Animal{ID: 3, Name: "New", Species: core.SpeciesDog, Microchip: "985-112-003", CreatedAt: old.AddDate(1, 0, 0)})
	store.Seed(ranch, core.Animal{ID: 4, Name: "Tie", Species: core.SpeciesDog, Microchip: "985112003", CreatedAt: old})
	svc := newService(t, store)

	p, err := svc.Preview(ctx, ranch, csvFile("Name,Species,Sex,Microchip", "Someone,dog,male,985 112 003"))
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	dup, ok := p.Rows[0].Warning.(core.DuplicateFinding)
	if !ok {
		t.Fatalf("warning = %#v, want duplicate", p.Rows[0].Warning)
	}
	if dup.Match.ID != 3 || dup.MatchedOn != "microchip" {
		t.Errorf("match = %d on %s, want 3 on microchip", dup.Match.ID, dup.MatchedOn)
	}
}

func TestPreview_MicrochipBeatsNewerNameMatch(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	store.Seed(ranch, core.Animal{ID: 10, Name: "Rex", Species: core.SpeciesDog, Microchip: "985112003", CreatedAt: old})
	store.Seed(ranch, core.Animal{ID: 11, Name: "Rex", Species: core.SpeciesDog, CreatedAt: old.AddDate(2, 0, 0)})
	svc := newService(t, store)

	p, err := svc.Preview(ctx, ranch, csvFile("Name,Species,Sex,Microchip", "Rex,dog,male,985112003"))
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	dup, ok := p.Rows[0].Warning.(core.DuplicateFinding)
	if !ok {
		t.Fatalf("warning = %#v, want duplicate", p.Rows[0].Warning)
	}
	if dup.Match.ID != 10 || dup.MatchedOn != "microchip" {
		t.Errorf("match = %d on %s, want 10 on microchip", dup.Match.ID, dup.MatchedOn)
	}
}

func TestPreview_MicrochipOfAnotherSpecies(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Seed(ranch, core.Animal{ID: 3, Name: "Tom", Species: core.SpeciesCat, Microchip: "900111222"})
	svc := newService(t, store)

	p, err := svc.Preview(ctx, ranch, csvFile("Name,Species,Sex,Microchip", "Rex,dog,male,900111222"))
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if r := p.Rows[0]; r.Status != core.RowValid || r.Warning != nil {
		t.Errorf("row = %+v, want valid without duplicate", r)
	}
}

func TestExecute_ErrorRowsCarriedIntoSummary(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Seed(ranch, core.Animal{ID: 42, Name: "Bella", Species: core.SpeciesDog, Sex: core.SexFemale})
	svc := newService(t, store)

	file := csvFile(
		"Name,Species,Sex,Breed",
		"Rex,dog,male,",
		",dog,female,",
		"Bella,dog,female,",
		"Max,dragon,male,",
		"Milo,dog,male,Xyz",
	)
	preview, err := svc.Preview(ctx, ranch, file)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	want := core.PreviewSummary{TotalRows: 5, ValidRows: 1, WarningRows: 2, ErrorRows: 2}
	if preview.Summary != want {
		t.Fatalf("Summary = %+v, want %+v", preview.Summary, want)
	}

	res, err := svc.Execute(ctx, ranch, core.ExecuteRequest{
		FileContent: file,
		Resolutions: []core.RowResolution{
			{RowNumber: 3, Action: core.DuplicateUpdate, ExistingAnimalID: 42},
			{RowNumber: 5, BreedAction: core.BreedCreateCustom, CustomBreedName: "Xyz"},
		},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	sum := res.Summary
	if sum.Errors != preview.Summary.ErrorRows {
		t.Errorf("Errors = %d, want %d", sum.Errors, preview.Summary.ErrorRows)
	}
	if got, want := sum.Imported+sum.Updated+sum.Skipped, preview.Summary.ValidRows+preview.Summary.WarningRows; got != want {
		t.Errorf("imported+updated+skipped = %d, want %d", got, want)
	}
	if sum.Imported != 2 || sum.Updated != 1 {
		t.Errorf("Summary = %+v, want 2 imported and 1 updated", sum)
	}

	errorRows := map[int]bool{2: true, 4: true}
	var touched []int
	for _, a := range res.ImportedAnimals {
		touched = append(touched, a.RowNumber)
	}
	for _, a := range res.UpdatedAnimals {
		touched = append(touched, a.RowNumber)
	}
	for _, s := range res.SkippedRows {
		touched = append(touched, s.RowNumber)
	}
	for _, row := range touched {
		if errorRows[row] {
			t.Errorf("error row %d appears in the result", row)
		}
	}
}

// slowStore delays animal reads so concurrent commits overlap.
type slowStore struct {
	*memory.Store
}

func (s slowStore) AnimalsBySpecies(ctx context.Context, scope core.Scope, species []core.Species) ([]core.Animal, error) {
	time.Sleep(50 * time.Millisecond)
	return s.Store.AnimalsBySpecies(ctx, scope, species)
}

func (s slowStore) WithTx(ctx context.Context, scope core.Scope, fn func(tx core.Tx) error) error {
	return s.Store.WithTx(ctx, scope, func(tx core.Tx) error {
		return fn(slowTx{Tx: tx})
	})
}

type slowTx struct {
	core.Tx
}

func (t slowTx) AnimalsBySpecies(ctx context.Context, scope core.Scope, species []core.Species) ([]core.Animal, error) {
	time.Sleep(50 * time.Millisecond)
	return t.Tx.AnimalsBySpecies(ctx, scope, species)
}

func TestExecute_ConcurrentCommitsDetectEachOther(t *testing.T) {
	store := memory.New()
	svc := newService(t, slowStore{Store: store})
	file := csvFile("Name,Species,Sex", "Rex,dog,male")

	results := make([]*core.ImportExecutionResult, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.Execute(context.Background(), ranch, core.ExecuteRequest{FileContent: file})
		}()
	}
	wg.Wait()

	imported, skipped := 0, 0
	for i, res := range results {
		if errs[i] != nil {
			t.Fatalf("Execute() #%d error = %v", i, errs[i])
		}
		imported += res.Summary.Imported
		skipped += res.Summary.Skipped
	}
	if imported != 1 || skipped != 1 {
		t.Errorf("imported = %d, skipped = %d, want one of each", imported, skipped)
	}
	if got := len(store.Animals(ranch)); got != 1 {
		t.Errorf("animals = %d, want a single Rex", got)
	}
}

func TestExecute_SameNameDamAndSirePlaceholders(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newService(t, store)

	file := csvFile("Name,Species,Sex,Dam Name,Sire Name", "Pup,dog,male,Unknown,Unknown")
	res, err := svc.Execute(ctx, ranch, core.ExecuteRequest{
		FileContent: file,
		Resolutions: []core.RowResolution{
			{RowNumber: 1, ParentField: core.ParentDam, ParentAction: core.ParentCreatePlaceholder},
			{RowNumber: 1, ParentField: core.ParentSire, ParentAction: core.ParentCreatePlaceholder},
		},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(res.PlaceholdersCreated) != 2 {
		t.Fatalf("PlaceholdersCreated = %v, want a dam and a sire", res.PlaceholdersCreated)
	}

	byID := make(map[int64]core.Animal)
	var pup core.Animal
	for _, a := range store.Animals(ranch) {
		byID[a.ID] = a
		if a.Name == "Pup" {
			pup = a
		}
	}
	if pup.DamID == 0 || pup.DamID == pup.SireID {
		t.Fatalf("Pup dam/sire = %d/%d, want two different animals", pup.DamID, pup.SireID)
	}
	if byID[pup.DamID].Sex != core.SexFemale || byID[pup.SireID].Sex != core.SexMale {
		t.Errorf("dam sex = %s, sire sex = %s", byID[pup.DamID].Sex, byID[pup.SireID].Sex)
	}
}

func TestExecute_SameAnimalAsDamAndSire(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Seed(ranch, core.Animal{ID: 7, Name: "Unknown", Species: core.SpeciesDog, Sex: core.SexFemale})
	svc := newService(t, store)

	file := csvFile("Name,Species,Sex,Dam Name,Sire Name", "Pup,dog,male,Unknown,Unknown")
	res, err := svc.Execute(ctx, ranch, core.ExecuteRequest{FileContent: file})
	if !errors.Is(err, core.ErrInvalidReference) {
		t.Fatalf("Execute() error = %v, want ErrInvalidReference", err)
	}
	if res.Failure == nil || res.Failure.Code != "IMP011" || res.Failure.RowNumber != 1 {
		t.Errorf("Failure = %+v, want IMP011 on row 1", res.Failure)
	}
	if got := len(store.Animals(ranch)); got != 1 {
		t.Errorf("animals = %d, want only the seeded one", got)
	}
}

func TestExecute_InFileParentsCommitFirst(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newService(t, store)

	file := csvFile(
		"Name,Species,Sex,Dam Name,Sire Name",
		"Pip,sheep,female,Hazel,Oak",
		"Hazel,sheep,female,,",
		"Oak,sheep,male,,",
	)
	res, err := svc.Execute(ctx, ranch, core.ExecuteRequest{FileContent: file})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Summary.Imported != 3 {
		t.Fatalf("Imported = %d, want 3", res.Summary.Imported)
	}
	if res.ImportedAnimals[len(res.ImportedAnimals)-1].Name != "Pip" {
		t.Errorf("Pip committed before its parents: %v", res.ImportedAnimals)
	}

	ids := make(map[string]int64)
	for _, a := range store.Animals(ranch) {
		ids[a.Name] = a.ID
	}
	for _, a := range store.Animals(ranch) {
		if a.Name != "Pip" {
			continue
		}
		if a.DamID != ids["Hazel"] || a.SireID != ids["Oak"] {
			t.Errorf("Pip dam/sire = %d/%d, want %d/%d", a.DamID, a.SireID, ids["Hazel"], ids["Oak"])
		}
	}
}

func TestExecute_Cycle(t *testing.T) {
	store := memory.New()
	svc := newService(t, store)

	file := csvFile(
		"Name,Species,Sex,Dam Name",
		"Ash,goat,female,Birch",
		"Birch,goat,female,Ash",
	)
	res, err := svc.Execute(context.Background(), ranch, core.ExecuteRequest{FileContent: file})

	var ce *core.CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("Execute() error = %v, want *CycleError", err)
	}
	if res == nil || res.Success || res.Failure == nil || res.Failure.Code != "IMP004" {
		t.Errorf("result = %+v, want IMP004 failure", res)
	}
	if got := len(store.Animals(ranch)); got != 0 {
		t.Errorf("animals = %d, want 0", got)
	}
}

func TestExecute_PlaceholderSharedAcrossRows(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newService(t, store)

	file := csvFile(
		"Name,Species,Sex,Sire Name",
		"Kid One,goat,female,Buckley",
		"Kid Two,goat,male, buckley ",
	)
	res, err := svc.Execute(ctx, ranch, core.ExecuteRequest{
		FileContent: file,
		Resolutions: []core.RowResolution{
			{RowNumber: 1, ParentField: core.ParentSire, ParentAction: core.ParentCreatePlaceholder},
			{RowNumber: 2, ParentAction: core.ParentCreatePlaceholder},
		},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(res.PlaceholdersCreated) != 1 {
		t.Fatalf("PlaceholdersCreated = %v, want one", res.PlaceholdersCreated)
	}

	placeholderID := res.PlaceholdersCreated[0].ID
	for _, a := range store.Animals(ranch) {
		switch a.Name {
		case "Buckley":
			if !a.IsPlaceholder || a.Sex != core.SexMale {
				t.Errorf("placeholder = %+v, want male placeholder", a)
			}
		case "Kid One", "Kid Two":
			if a.SireID != placeholderID {
				t.Errorf("%s SireID = %d, want %d", a.Name, a.SireID, placeholderID)
			}
		}
	}
}

func TestExecute_UpdateMergesAndClearsPlaceholder(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Seed(ranch, core.Animal{ID: 9, Name: "Hazel", Species: core.SpeciesSheep, Sex: core.SexFemale, Notes: "keep", IsPlaceholder: true})
	svc := newService(t, store)

	file := csvFile("Name,Species,Sex,Microchip", "Hazel,sheep,female,ABC123")
	res, err := svc.Execute(ctx, ranch, core.ExecuteRequest{
		FileContent: file,
		Resolutions: []core.RowResolution{{RowNumber: 1, Action: core.DuplicateUpdate, ExistingAnimalID: 9}},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Summary.Updated != 1 {
		t.Fatalf("Updated = %d, want 1", res.Summary.Updated)
	}

	got := store.Animals(ranch)[0]
	if got.IsPlaceholder {
		t.Error("IsPlaceholder still set after update")
	}
	if got.Microchip != "ABC123" || got.Notes != "keep" {
		t.Errorf("animal = %+v, want new microchip and kept notes", got)
	}
}

func TestExecute_SelfParentRollsBack(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Seed(ranch, core.Animal{ID: 42, Name: "Bella", Species: core.SpeciesDog, Sex: core.SexFemale})
	svc := newService(t, store)

	file := csvFile(
		"Name,Species,Sex,Dam Name",
		"Rex,dog,male,",
		"Bella,dog,female,Bella",
	)
	res, err := svc.Execute(ctx, ranch, core.ExecuteRequest{
		FileContent: file,
		Resolutions: []core.RowResolution{{RowNumber: 2, Action: core.DuplicateUpdate, ExistingAnimalID: 42}},
	})
	if !errors.Is(err, core.ErrInvalidReference) {
		t.Fatalf("Execute() error = %v, want ErrInvalidReference", err)
	}
	if res.Failure == nil || res.Failure.Code != "IMP005" || res.Failure.RowNumber != 2 {
		t.Errorf("Failure = %+v, want IMP005 on row 2", res.Failure)
	}
	if got := len(store.Animals(ranch)); got != 1 {
		t.Errorf("animals = %d, want only the seeded one", got)
	}
}

func TestExecute_AtomicOnWriteFailure(t *testing.T) {
	ctx := context.Background()
	var writes atomic.Int32
	boom := errors.New("disk full")
	store := memory.New(memory.WithWriteHook(func(op string) error {
		if writes.Add(1) == 2 {
			return boom
		}
		return nil
	}))
	svc := newService(t, store)

	file := csvFile("Name,Species,Sex", "Rex,dog,male", "Max,dog,male", "Bo,dog,male")
	res, err := svc.Execute(ctx, ranch, core.ExecuteRequest{FileContent: file})
	if !errors.Is(err, boom) {
		t.Fatalf("Execute() error = %v, want %v", err, boom)
	}

	var ce *core.CommitError
	if !errors.As(err, &ce) || ce.RowNumber != 2 {
		t.Errorf("error = %v, want CommitError on row 2", err)
	}
	if res == nil || res.Success || res.Failure == nil {
		t.Fatalf("result = %+v, want failure", res)
	}
	if len(res.ImportedAnimals) != 0 {
		t.Errorf("ImportedAnimals = %v, want none after rollback", res.ImportedAnimals)
	}
	if got := len(store.Animals(ranch)); got != 0 {
		t.Errorf("animals = %d, want 0", got)
	}
}

func TestExecute_ResolutionMismatch(t *testing.T) {
	svc := newService(t, memory.New())
	file := csvFile("Name,Species,Sex", "Rex,dog,male")

	res, err := svc.Execute(context.Background(), ranch, core.ExecuteRequest{
		FileContent: file,
		Resolutions: []core.RowResolution{{RowNumber: 1, Action: core.DuplicateSkip}},
	})
	var re *core.ResolutionError
	if !errors.As(err, &re) {
		t.Fatalf("Execute() error = %v, want *ResolutionError", err)
	}
	if res.Failure == nil || res.Failure.Code != "RES001" {
		t.Errorf("Failure = %+v, want RES001", res.Failure)
	}
}

func TestExecute_IdempotencyKey(t *testing.T) {
	ctx := core.ContextWithIPAddress(context.Background(), "203.0.113.7")
	store := memory.New()
	svc := newService(t, store)

	file := csvFile("Name,Species,Sex", "Rex,dog,male")
	req := core.ExecuteRequest{FileContent: file, IdempotencyKey: "upload-1"}

	first, err := svc.Execute(ctx, ranch, req)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	second, err := svc.Execute(ctx, ranch, req)
	if err != nil {
		t.Fatalf("Execute() replay error = %v", err)
	}
	if !second.Replayed || second.ImportID != first.ImportID {
		t.Errorf("replay = %+v, want replay of %s", second, first.ImportID)
	}
	if second.Summary != first.Summary {
		t.Errorf("replay Summary = %+v, want %+v", second.Summary, first.Summary)
	}
	if got := len(store.Animals(ranch)); got != 1 {
		t.Errorf("animals = %d, want 1", got)
	}

	_, err = svc.Execute(ctx, ranch, core.ExecuteRequest{
		FileContent:    csvFile("Name,Species,Sex", "Max,dog,male"),
		IdempotencyKey: "upload-1",
	})
	if !errors.Is(err, core.ErrIdempotencyConflict) {
		t.Errorf("Execute() with another file error = %v, want ErrIdempotencyConflict", err)
	}

	_, err = svc.Execute(ctx, ranch, core.ExecuteRequest{
		FileContent:    file,
		IdempotencyKey: strings.Repeat("k", core.MaxIdempotencyKeyLength+1),
	})
	if !errors.Is(err, core.ErrIdempotencyKeyTooLong) {
		t.Errorf("Execute() with long key error = %v, want ErrIdempotencyKeyTooLong", err)
	}
}

func TestExecute_KeysAreTenantScoped(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := newService(t, store)
	other := core.Scope{TenantID: "other"}

	req := core.ExecuteRequest{FileContent: csvFile("Name,Species,Sex", "Rex,dog,male"), IdempotencyKey: "k"}
	if _, err := svc.Execute(ctx, ranch, req); err != nil {
		t.Fatalf("Execute(ranch) error = %v", err)
	}
	res, err := svc.Execute(ctx, other, req)
	if err != nil {
		t.Fatalf("Execute(other) error = %v", err)
	}
	if res.Replayed {
		t.Error("another tenant's key was replayed")
	}
	if got := len(store.Animals(other)); got != 1 {
		t.Errorf("other animals = %d, want 1", got)
	}
}

func TestListBreeds(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.SeedBreed(ranch, core.SpeciesGoat, "Alpha Custom")
	svc := newService(t, store)

	breeds, err := svc.ListBreeds(ctx, ranch, core.SpeciesGoat)
	if err != nil {
		t.Fatalf("ListBreeds() error = %v", err)
	}
	if len(breeds) != len(core.DefaultBreeds[core.SpeciesGoat])+1 {
		t.Fatalf("ListBreeds() = %d breeds", len(breeds))
	}
	last := breeds[len(breeds)-1]
	if !last.Custom || last.Name != "Alpha Custom" {
		t.Errorf("last breed = %+v, want the custom breed after system breeds", last)
	}
	if breeds[0].Name != "Alpine" {
		t.Errorf("first breed = %q, want Alpine", breeds[0].Name)
	}
}
