package core

// convert.go turns user-typed spreadsheet cells into typed values.
//
// Breeders export from many tools, so the same field arrives in many shapes:
//   - Dates in US, EU and ISO layouts, with 2- or 4-digit years
//   - Excel formula prefixes (="0123") that protect leading zeros
//   - Microchips with spaces, dashes or dots between digit groups
//   - Names with doubled inner whitespace
//
// All ToPg* functions return pgtype values with Valid=false for empty or
// invalid input so storage adapters can write NULL.

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would land more than this many years in the future are moved
// to the previous century. Animals are rarely born in the future, so the
// pivot is small.
var TwoDigitYearPivot = 1

// Date layouts split by year format for proper 2-digit year handling
var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "01-02-06", "1.2.06", "01.02.06",
		"2-Jan-06", "02-Jan-06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"Jan 2, 2006", "January 2, 2006", "2 Jan 2006", "2 January 2006",
		"2-Jan-2006", "02-Jan-2006",
		"2006-01-02T15:04:05Z07:00", "2006-01-02 15:04:05",
		"20060102",
	}
)

// ToPgText converts a string to pgtype.Text.
// Returns invalid if the string is empty or only whitespace.
func ToPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// PgTextToString returns the text value or "" when NULL.
func PgTextToString(t pgtype.Text) string {
	if !t.Valid {
		return ""
	}
	return t.String
}

// ToPgDate converts a string to pgtype.Date.
// Supports multiple date formats and handles 2-digit years with pivot.
func ToPgDate(s string) pgtype.Date {
	return toPgDateAt(s, time.Now())
}

func toPgDateAt(s string, now time.Time) pgtype.Date {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Date{Valid: false}
	}

	// 4-digit layouts first, they are unambiguous about the century
	for _, layout := range fourDigitYearLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return pgtype.Date{Time: truncateDay(t), Valid: true}
		}
	}

	pivotYear := now.Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return pgtype.Date{Time: truncateDay(t), Valid: true}
		}
	}

	return pgtype.Date{Valid: false}
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ToPgInt8 converts an id to pgtype.Int8. Zero is treated as NULL.
func ToPgInt8(id int64) pgtype.Int8 {
	if id == 0 {
		return pgtype.Int8{Valid: false}
	}
	return pgtype.Int8{Int64: id, Valid: true}
}

// PgInt8ToID returns the id or 0 when NULL.
func PgInt8ToID(v pgtype.Int8) int64 {
	if !v.Valid {
		return 0
	}
	return v.Int64
}

// ToPgUUID converts a uuid to pgtype.UUID. The nil uuid is NULL.
func ToPgUUID(id uuid.UUID) pgtype.UUID {
	if id == uuid.Nil {
		return pgtype.UUID{Valid: false}
	}
	return pgtype.UUID{Bytes: id, Valid: true}
}

// PgUUIDToString converts a pgtype.UUID to its string representation.
// Returns empty string if the UUID is invalid.
func PgUUIDToString(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	return uuid.UUID(u.Bytes).String()
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// - Trims whitespace, including non-breaking spaces
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '\ufeff'
	})

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}

// collapseSpaces trims s and folds inner whitespace runs to a single space.
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeMicrochip strips separators and upper-cases a microchip so that
// "985 112-003.456" and "985112003456" compare equal.
func NormalizeMicrochip(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsSpace(r) || r == '-' || r == '.':
			continue
		default:
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}
