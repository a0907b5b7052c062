package core

// validation.go turns a RawRow into a ParsedRecord.
//
// Every problem in the row is reported, not just the first, so the preview
// can show the breeder everything to fix at once. A row with any FieldError
// is classified as error and never reaches the resolver.

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// MaxNameLength bounds animal and parent names.
const MaxNameLength = 120

// FieldError is a row-local validation failure.
type FieldError struct {
	Column  Column // Column the value came from
	Value   string // The offending value
	Message string // Human-readable error message
}

func (e FieldError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s: %s", e.Column, e.Message)
	}
	return e.Message
}

// ValidateRow validates one RawRow. now is used to reject future birth dates
// and to pivot 2-digit years. On failure the returned record is the zero
// value.
func ValidateRow(row RawRow, now time.Time) (ParsedRecord, []FieldError) {
	var (
		rec  ParsedRecord
		errs []FieldError
	)

	fail := func(col Column, value, format string, args ...any) {
		errs = append(errs, FieldError{Column: col, Value: value, Message: fmt.Sprintf(format, args...)})
	}

	name, _ := row.Get(ColName)
	rec.Name = collapseSpaces(name)
	switch {
	case rec.Name == "":
		fail(ColName, name, "required field is empty")
	case utf8.RuneCountInString(rec.Name) > MaxNameLength:
		fail(ColName, name, "value too long (max %d characters)", MaxNameLength)
	}

	species, _ := row.Get(ColSpecies)
	if species == "" {
		fail(ColSpecies, species, "required field is empty")
	} else if sp, ok := ParseSpecies(species); ok {
		rec.Species = sp
	} else {
		fail(ColSpecies, species, "unknown species %q", species)
	}

	sex, _ := row.Get(ColSex)
	if sex == "" {
		fail(ColSex, sex, "required field is empty")
	} else if sx, ok := ParseSex(sex); ok {
		rec.Sex = sx
	} else {
		fail(ColSex, sex, "unknown sex %q", sex)
	}

	if raw, _ := row.Get(ColBirthDate); raw != "" {
		d := toPgDateAt(raw, now)
		switch {
		case !d.Valid:
			fail(ColBirthDate, raw, "invalid date %q (use YYYY-MM-DD or MM/DD/YYYY)", raw)
		case d.Time.After(truncateDay(now)):
			fail(ColBirthDate, raw, "birth date is in the future")
		default:
			rec.BirthDate = d
		}
	}

	if raw, _ := row.Get(ColStatus); raw != "" {
		if st, ok := ParseStatus(raw); ok {
			rec.Status = st
		} else {
			fail(ColStatus, raw, "invalid status %q", raw)
		}
	}

	for _, f := range []struct {
		col Column
		dst *string
	}{
		{ColDamName, &rec.DamName},
		{ColSireName, &rec.SireName},
	} {
		raw, _ := row.Get(f.col)
		v := collapseSpaces(raw)
		if utf8.RuneCountInString(v) > MaxNameLength {
			fail(f.col, raw, "value too long (max %d characters)", MaxNameLength)
			continue
		}
		*f.dst = v
	}

	chip, _ := row.Get(ColMicrochip)
	rec.Microchip = NormalizeMicrochip(chip)
	breed, _ := row.Get(ColBreed)
	rec.Breed = collapseSpaces(breed)
	rec.RegistryName, _ = row.Get(ColRegistryName)
	rec.RegistryNumber, _ = row.Get(ColRegistryNumber)
	rec.Notes, _ = row.Get(ColNotes)

	if len(errs) > 0 {
		return ParsedRecord{}, errs
	}
	return rec, nil
}
