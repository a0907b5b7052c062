package core

// decode.go turns uploaded bytes into ordered RawRows.
//
// Accepted inputs:
//   - CSV as UTF-8 (with or without BOM), UTF-16 with BOM, or Windows-1252
//   - Comma, semicolon or tab delimited CSV (sniffed from the header line)
//   - XLSX workbooks (first sheet)
//
// The header row may be preceded by a few title lines; the first row that
// carries every required column within MaxHeaderSearchRows is used. Data rows
// that are entirely empty are dropped, and the remaining rows are numbered
// from 1 in file order. Numbers are stable across preview and execute.

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// MaxHeaderSearchRows is how many leading rows are scanned for the header.
const MaxHeaderSearchRows = 10

// ErrTooManyRows is wrapped in a DecodeError when a file exceeds the row cap.
var ErrTooManyRows = errors.New("too many rows")

// DecodeError is fatal for a preview: nothing in the file could be
// classified.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode: %s: %v", e.Reason, e.Err)
	}
	return "decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(reason string, err error) *DecodeError {
	return &DecodeError{Reason: reason, Err: err}
}

var (
	xlsxMagic = []byte("PK\x03\x04")
	utf8BOM   = []byte{0xEF, 0xBB, 0xBF}
)

// headerAliases maps a normalized header (lowercase, letters and digits only)
// to its column.
var headerAliases = map[string]Column{
	"name": ColName, "animalname": ColName, "callname": ColName,
	"species": ColSpecies, "animaltype": ColSpecies, "type": ColSpecies,
	"sex": ColSex, "gender": ColSex,
	"birthdate": ColBirthDate, "dateofbirth": ColBirthDate, "dob": ColBirthDate,
	"born": ColBirthDate, "birthday": ColBirthDate,
	"microchip": ColMicrochip, "microchipnumber": ColMicrochip, "microchipid": ColMicrochip,
	"chip": ColMicrochip, "chipnumber": ColMicrochip, "chipid": ColMicrochip,
	"breed": ColBreed,
	"damname": ColDamName, "dam": ColDamName, "mother": ColDamName,
	"sirename": ColSireName, "sire": ColSireName, "father": ColSireName,
	"registryname": ColRegistryName, "registeredname": ColRegistryName,
	"registrationname": ColRegistryName,
	"registrynumber": ColRegistryNumber, "registrationnumber": ColRegistryNumber,
	"registryno": ColRegistryNumber, "regnumber": ColRegistryNumber, "regno": ColRegistryNumber,
	"status": ColStatus,
	"notes": ColNotes, "note": ColNotes, "comments": ColNotes, "remarks": ColNotes,
}

// headerKey normalizes a header cell for alias lookup.
func headerKey(h string) string {
	h = strings.ToLower(CleanCell(h))
	var b strings.Builder
	for _, r := range h {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ColumnIndex maps a known column to its position in the header row.
type ColumnIndex map[Column]int

// MakeColumnIndex builds a ColumnIndex from a header row. Unknown headers are
// ignored; when a column appears twice the first occurrence wins.
func MakeColumnIndex(header []string) ColumnIndex {
	idx := make(ColumnIndex, len(header))
	for i, h := range header {
		col, ok := headerAliases[headerKey(h)]
		if !ok {
			continue
		}
		if _, seen := idx[col]; !seen {
			idx[col] = i
		}
	}
	return idx
}

// missing returns the required columns not present in the index.
func (idx ColumnIndex) missing() []string {
	var out []string
	for _, c := range RequiredColumns {
		if _, ok := idx[c]; !ok {
			out = append(out, string(c))
		}
	}
	return out
}

// Decode parses an uploaded file into RawRows. maxRows <= 0 disables the row
// cap. Decode is pure: the same bytes always produce the same rows.
func Decode(data []byte, maxRows int) ([]RawRow, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, decodeErr("empty file", nil)
	}

	var (
		records [][]string
		err     error
	)
	if bytes.HasPrefix(data, xlsxMagic) {
		records, err = readXLSX(data)
	} else {
		var text []byte
		text, err = decodeText(data)
		if err == nil {
			records, err = parseCSV(text)
		}
	}
	if err != nil {
		return nil, err
	}

	headerAt, idx, err := findHeader(records)
	if err != nil {
		return nil, err
	}

	rows := make([]RawRow, 0, len(records)-headerAt-1)
	for _, rec := range records[headerAt+1:] {
		if isEmptyRecord(rec) {
			continue
		}
		if maxRows > 0 && len(rows) >= maxRows {
			return nil, decodeErr(fmt.Sprintf("file has more than %d data rows", maxRows), ErrTooManyRows)
		}
		values := make(map[Column]string, len(idx))
		for col, pos := range idx {
			if pos < len(rec) {
				values[col] = CleanCell(rec[pos])
			} else {
				values[col] = ""
			}
		}
		rows = append(rows, RawRow{Number: len(rows) + 1, Values: values})
	}

	return rows, nil
}

// findHeader locates the header row among the first MaxHeaderSearchRows
// non-empty records.
func findHeader(records [][]string) (int, ColumnIndex, error) {
	var firstIdx ColumnIndex
	seen := 0
	for i, rec := range records {
		if isEmptyRecord(rec) {
			continue
		}
		idx := MakeColumnIndex(rec)
		if len(idx.missing()) == 0 {
			return i, idx, nil
		}
		if firstIdx == nil {
			firstIdx = idx
		}
		seen++
		if seen >= MaxHeaderSearchRows {
			break
		}
	}
	if firstIdx == nil {
		return 0, nil, decodeErr("empty file", nil)
	}
	return 0, nil, decodeErr("missing required header: "+strings.Join(firstIdx.missing(), ", "), nil)
}

func isEmptyRecord(rec []string) bool {
	for _, cell := range rec {
		if CleanCell(cell) != "" {
			return false
		}
	}
	return true
}

// decodeText converts the raw bytes to UTF-8.
func decodeText(data []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}):
		out, err := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder().Bytes(data)
		if err != nil {
			return nil, decodeErr("unreadable encoding", err)
		}
		return out, nil
	case bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		out, err := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder().Bytes(data)
		if err != nil {
			return nil, decodeErr("unreadable encoding", err)
		}
		return out, nil
	}

	data = bytes.TrimPrefix(data, utf8BOM)

	// NUL never appears in a text export; this is a binary file.
	if bytes.IndexByte(data, 0) >= 0 {
		return nil, decodeErr("unreadable encoding: file is not text", nil)
	}

	if utf8.Valid(data) {
		return data, nil
	}

	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return nil, decodeErr("unreadable encoding", err)
	}
	return out, nil
}

// sniffDelimiter picks the delimiter that occurs most often in the first line.
func sniffDelimiter(text []byte) rune {
	line := text
	if i := bytes.IndexByte(text, '\n'); i >= 0 {
		line = text[:i]
	}
	best, bestCount := ',', bytes.Count(line, []byte{','})
	for _, d := range []rune{';', '\t'} {
		if n := bytes.Count(line, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

// parseCSV reads all records. Ragged rows are tolerated. A bare quote inside
// an unquoted field is retried leniently; an unterminated quoted field is a
// DecodeError since everything after it would be swallowed into one cell.
func parseCSV(text []byte) ([][]string, error) {
	records, err := readCSV(text, false)
	var perr *csv.ParseError
	if errors.As(err, &perr) && errors.Is(perr.Err, csv.ErrBareQuote) {
		records, err = readCSV(text, true)
	}
	if err != nil {
		return nil, decodeErr("malformed CSV", err)
	}
	return records, nil
}

func readCSV(text []byte, lazy bool) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(text))
	reader.Comma = sniffDelimiter(text)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = lazy
	reader.TrimLeadingSpace = true

	var records [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// readXLSX returns the formatted cell values of the first sheet.
func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, decodeErr("unreadable spreadsheet", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, decodeErr("empty file", nil)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, decodeErr("unreadable spreadsheet", err)
	}
	return rows, nil
}
