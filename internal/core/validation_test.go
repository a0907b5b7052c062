package core

import (
	"strings"
	"testing"
	"time"
)

func rawRow(values map[Column]string) RawRow {
	return RawRow{Number: 1, Values: values}
}

func TestValidateRow_Valid(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	row := rawRow(map[Column]string{
		ColName:      "  Sir   Rex ",
		ColSpecies:   "Canine",
		ColSex:       "M",
		ColBirthDate: "03/14/2022",
		ColMicrochip: "985-112 003",
		ColBreed:     "Border  Collie",
		ColDamName:   "Bella ",
		ColStatus:    "Alive",
		ColNotes:     "calm",
	})

	rec, errs := ValidateRow(row, now)
	if len(errs) != 0 {
		t.Fatalf("ValidateRow() errors = %v", errs)
	}

	if rec.Name != "Sir Rex" {
		t.Errorf("Name = %q, want %q", rec.Name, "Sir Rex")
	}
	if rec.Species != SpeciesDog {
		t.Errorf("Species = %q, want %q", rec.Species, SpeciesDog)
	}
	if rec.Sex != SexMale {
		t.Errorf("Sex = %q, want %q", rec.Sex, SexMale)
	}
	if got := rec.BirthDate.Time.Format("2006-01-02"); !rec.BirthDate.Valid || got != "2022-03-14" {
		t.Errorf("BirthDate = %v, want 2022-03-14", rec.BirthDate)
	}
	if rec.Microchip != "985112003" {
		t.Errorf("Microchip = %q, want %q", rec.Microchip, "985112003")
	}
	if rec.Breed != "Border Collie" {
		t.Errorf("Breed = %q, want %q", rec.Breed, "Border Collie")
	}
	if rec.DamName != "Bella" {
		t.Errorf("DamName = %q, want %q", rec.DamName, "Bella")
	}
	if rec.Status != StatusActive {
		t.Errorf("Status = %q, want %q", rec.Status, StatusActive)
	}
}

func TestValidateRow_EmptyDateIsNull(t *testing.T) {
	rec, errs := ValidateRow(rawRow(map[Column]string{
		ColName: "Rex", ColSpecies: "dog", ColSex: "male", ColBirthDate: "",
	}), time.Now())
	if len(errs) != 0 {
		t.Fatalf("ValidateRow() errors = %v", errs)
	}
	if rec.BirthDate.Valid {
		t.Error("BirthDate.Valid = true for an empty date")
	}
}

func TestValidateRow_Errors(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		values  map[Column]string
		wantCol []Column
		wantMsg string
	}{
		{
			name:    "missing name",
			values:  map[Column]string{ColName: "  ", ColSpecies: "dog", ColSex: "male"},
			wantCol: []Column{ColName},
			wantMsg: "required field is empty",
		},
		{
			name:    "unknown species",
			values:  map[Column]string{ColName: "Rex", ColSpecies: "dragon", ColSex: "male"},
			wantCol: []Column{ColSpecies},
			wantMsg: `unknown species "dragon"`,
		},
		{
			name:    "unknown sex",
			values:  map[Column]string{ColName: "Rex", ColSpecies: "dog", ColSex: "x"},
			wantCol: []Column{ColSex},
			wantMsg: `unknown sex "x"`,
		},
		{
			name:    "bad date",
			values:  map[Column]string{ColName: "Rex", ColSpecies: "dog", ColSex: "male", ColBirthDate: "spring"},
			wantCol: []Column{ColBirthDate},
			wantMsg: "invalid date",
		},
		{
			name:    "future date",
			values:  map[Column]string{ColName: "Rex", ColSpecies: "dog", ColSex: "male", ColBirthDate: "2024-06-02"},
			wantCol: []Column{ColBirthDate},
			wantMsg: "in the future",
		},
		{
			name:    "bad status",
			values:  map[Column]string{ColName: "Rex", ColSpecies: "dog", ColSex: "male", ColStatus: "lost"},
			wantCol: []Column{ColStatus},
			wantMsg: `invalid status "lost"`,
		},
		{
			name:    "long dam name",
			values:  map[Column]string{ColName: "Rex", ColSpecies: "dog", ColSex: "male", ColDamName: strings.Repeat("a", MaxNameLength+1)},
			wantCol: []Column{ColDamName},
			wantMsg: "too long",
		},
		{
			name:    "every problem reported",
			values:  map[Column]string{ColName: "", ColSpecies: "", ColSex: ""},
			wantCol: []Column{ColName, ColSpecies, ColSex},
			wantMsg: "required field is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, errs := ValidateRow(rawRow(tt.values), now)
			if len(errs) != len(tt.wantCol) {
				t.Fatalf("ValidateRow() errors = %v, want %d", errs, len(tt.wantCol))
			}
			for i, e := range errs {
				if e.Column != tt.wantCol[i] {
					t.Errorf("errors[%d].Column = %q, want %q", i, e.Column, tt.wantCol[i])
				}
				if !strings.Contains(e.Message, tt.wantMsg) {
					t.Errorf("errors[%d].Message = %q, want it to contain %q", i, e.Message, tt.wantMsg)
				}
			}
			if rec != (ParsedRecord{}) {
				t.Errorf("record = %+v, want zero value on error", rec)
			}
		})
	}
}

func TestValidateRow_TodayIsNotFuture(t *testing.T) {
	now := time.Date(2024, 6, 1, 18, 30, 0, 0, time.UTC)
	_, errs := ValidateRow(rawRow(map[Column]string{
		ColName: "Rex", ColSpecies: "dog", ColSex: "male", ColBirthDate: "2024-06-01",
	}), now)
	if len(errs) != 0 {
		t.Errorf("ValidateRow() errors = %v, want none for a birth date of today", errs)
	}
}

func TestParseEnums(t *testing.T) {
	species := map[string]Species{
		"DOG": SpeciesDog, " equine ": SpeciesHorse, "cow": SpeciesCattle, "Swine": SpeciesPig,
	}
	for in, want := range species {
		if got, ok := ParseSpecies(in); !ok || got != want {
			t.Errorf("ParseSpecies(%q) = %q, %v, want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseSpecies("unicorn"); ok {
		t.Error("ParseSpecies(unicorn) ok = true")
	}

	sexes := map[string]Sex{"F": SexFemale, "mare": SexFemale, "Stallion": SexMale, "?": SexUnknown}
	for in, want := range sexes {
		if got, ok := ParseSex(in); !ok || got != want {
			t.Errorf("ParseSex(%q) = %q, %v, want %q", in, got, ok, want)
		}
	}

	if got, ok := ParseStatus("Dead"); !ok || got != StatusDeceased {
		t.Errorf("ParseStatus(Dead) = %q, %v, want %q", got, ok, StatusDeceased)
	}
}
