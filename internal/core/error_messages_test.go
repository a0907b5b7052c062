package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:        "nil error returns empty",
			err:         nil,
			wantCode:    "",
			wantMessage: "",
		},
		{
			name:        "duplicate key maps correctly",
			err:         errors.New("pq: duplicate key value violates unique constraint"),
			wantCode:    "DB001",
			wantMessage: "A record with this ID already exists",
		},
		{
			name:        "unique constraint maps correctly",
			err:         errors.New("ERROR: unique constraint violated"),
			wantCode:    "DB002",
			wantMessage: "This value must be unique but already exists",
		},
		{
			name:        "foreign key maps correctly",
			err:         errors.New("violates foreign key constraint"),
			wantCode:    "DB003",
			wantMessage: "Referenced record does not exist",
		},
		{
			name:        "connection refused maps correctly",
			err:         errors.New("dial tcp: connection refused"),
			wantCode:    "DB004",
			wantMessage: "Unable to connect to database",
		},
		{
			name:        "timeout maps correctly",
			err:         errors.New("read tcp 10.0.0.5:5432: i/o timeout"),
			wantCode:    "DB006",
			wantMessage: "Operation timed out",
		},
		{
			name:        "file too large maps correctly",
			err:         errors.New("file too large: 20MB exceeds limit"),
			wantCode:    "FILE001",
			wantMessage: "File exceeds maximum size limit",
		},
		{
			name:        "decode error maps by reason",
			err:         decodeErr("missing required header: Species", nil),
			wantCode:    "FILE006",
			wantMessage: "Required column is missing from the file",
		},
		{
			name:        "row cap maps to too many rows",
			err:         decodeErr("file has more than 10 data rows", ErrTooManyRows),
			wantCode:    "FILE007",
			wantMessage: "File has more rows than one import allows",
		},
		{
			name:        "limiter busy",
			err:         ErrTooManyImports,
			wantCode:    "IMP001",
			wantMessage: "System is busy processing other imports",
		},
		{
			name:        "cycle before anything else",
			err:         &CycleError{Rows: []int{2, 3}},
			wantCode:    "IMP004",
			wantMessage: "Animals in the file are listed as each other's parents",
		},
		{
			name:        "self parent wins over invalid reference",
			err:         &CommitError{RowNumber: 4, Err: fmt.Errorf("%w: animal cannot be its own parent", ErrInvalidReference)},
			wantCode:    "IMP005",
			wantMessage: "An animal cannot be its own dam or sire",
		},
		{
			name:        "same dam and sire wins over invalid reference",
			err:         &CommitError{RowNumber: 1, Err: fmt.Errorf("%w: animal 7 cannot be both dam and sire", ErrInvalidReference)},
			wantCode:    "IMP011",
			wantMessage: "The same animal cannot be both dam and sire",
		},
		{
			name:        "commit error keeps driver classification",
			err:         &CommitError{RowNumber: 2, Err: errors.New("create animal: ERROR: duplicate key value")},
			wantCode:    "DB001",
			wantMessage: "A record with this ID already exists",
		},
		{
			name:        "resolution mismatch",
			err:         mismatch(5, "row has no duplicate warning"),
			wantCode:    "RES001",
			wantMessage: "The decisions do not match the current preview",
		},
		{
			name:        "preview timeout",
			err:         fmt.Errorf("%w after 30s", ErrPreviewTimeout),
			wantCode:    "IMP007",
			wantMessage: "The file took too long to analyze",
		},
		{
			name:        "rate limit maps correctly",
			err:         errors.New("rate limit exceeded"),
			wantCode:    "RATE001",
			wantMessage: "Too many requests",
		},
		{
			name:        "unknown error returns default",
			err:         errors.New("some random internal error"),
			wantCode:    "ERR000",
			wantMessage: "An unexpected error occurred",
		},
		{
			name:        "case insensitive matching",
			err:         errors.New("DUPLICATE KEY value violates"),
			wantCode:    "DB001",
			wantMessage: "A record with this ID already exists",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("MapError() message = %q, want %q", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	err := errors.New("duplicate key value violates")
	result := FormatUserError(err)

	expected := "A record with this ID already exists (Code: DB001). Run the preview again to review duplicates"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error is not user facing",
			err:  nil,
			want: false,
		},
		{
			name: "known error is user facing",
			err:  errors.New("duplicate key"),
			want: true,
		},
		{
			name: "unknown error is not user facing",
			err:  errors.New("random internal error xyz"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsUserFacing(tt.err)
			if got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if got := NewUserError(nil); got != nil {
			t.Errorf("NewUserError(nil) = %v, want nil", got)
		}
	})

	t.Run("wraps technical error with user message", func(t *testing.T) {
		techErr := errors.New("pq: duplicate key value")
		userErr := NewUserError(techErr)

		if userErr.Error() != "A record with this ID already exists" {
			t.Errorf("Error() = %q, want user message", userErr.Error())
		}

		if !errors.Is(userErr, techErr) {
			t.Error("Unwrap() should return original error")
		}
	})
}
