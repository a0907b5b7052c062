// Package core provides the business logic for animal registry imports.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// When users encounter errors, they can quote the error code to support staff
// for faster diagnosis.
//
// Error codes are grouped by category:
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key: A record with this ID already exists
//	        Patterns: "duplicate key"
//	DB002 - Unique constraint: This value must be unique but already exists
//	        Patterns: "unique constraint", "violates unique"
//	DB003 - Foreign key: Referenced record does not exist
//	        Patterns: "foreign key constraint", "violates foreign key"
//	DB004 - Connection refused: Unable to connect to database
//	        Patterns: "connection refused"
//	DB005 - Connection reset: Database connection was interrupted
//	        Patterns: "connection reset"
//	DB006 - Timeout: Operation timed out
//	        Patterns: "timeout"
//	DB007 - Deadlock: Database was busy with conflicting operations
//	        Patterns: "deadlock"
//
// # Validation Errors (VAL001-VAL099)
//
// Row-level problems. These normally stay inside the preview as row errors;
// the codes exist for clients that surface them individually.
//
//	VAL001 - Invalid date            Patterns: "invalid date"
//	VAL002 - Future birth date       Patterns: "in the future"
//	VAL003 - Required field          Patterns: "required field"
//	VAL004 - Unknown species         Patterns: "unknown species"
//	VAL005 - Unknown sex             Patterns: "unknown sex"
//	VAL006 - Invalid status          Patterns: "invalid status"
//	VAL007 - Value too long          Patterns: "too long"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large         Patterns: "file too large"
//	FILE002 - Malformed CSV          Patterns: "malformed csv"
//	FILE003 - Unreadable file        Patterns: "unreadable encoding", "unreadable spreadsheet"
//	FILE004 - No file                Patterns: "no file provided"
//	FILE005 - Empty file             Patterns: "empty file"
//	FILE006 - Missing header         Patterns: "missing required header"
//	FILE007 - Too many rows          Patterns: "too many rows"
//	FILE008 - Bad file encoding      Patterns: "invalid base64"
//	FILE009 - Bad request body       Patterns: "malformed request body"
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - System busy             Patterns: "too many concurrent imports"
//	IMP002 - Shutting down           Patterns: "shutting down"
//	IMP003 - Idempotency conflict    Patterns: "idempotency key"
//	IMP004 - Dependency cycle        Patterns: "dependency cycle"
//	IMP005 - Own parent              Patterns: "own parent"
//	IMP006 - Invalid reference       Patterns: "invalid reference"
//	IMP007 - Preview timeout         Patterns: "preview timed out"
//	IMP008 - Missing tenant          Patterns: "missing tenant"
//	IMP009 - Request cancelled       Patterns: "context canceled"
//	IMP010 - Request timeout         Patterns: "context deadline exceeded"
//	IMP011 - Same dam and sire       Patterns: "both dam and sire"
//
// # Resolution Errors (RES001-RES099)
//
//	RES001 - Resolution mismatch     Patterns: "resolution mismatch"
//
// # Rate Limiting (RATE001-RATE099)
//
//	RATE001 - Rate limited: Too many requests
//	          Patterns: "rate limit"
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: An unexpected error occurred
//
// # Pattern Matching
//
// Error patterns are matched case-insensitively using strings.Contains.
// The first matching pattern wins, so more specific patterns are defined
// before general ones. Import errors come before database errors because a
// commit failure message carries both the row context and the driver text.
//
// # For Support Staff
//
// When a user reports an error code:
//  1. Look up the code in this reference
//  2. Check the associated patterns to understand what triggered it
//  3. Review the suggested action to guide the user
//  4. If ERR000, check application logs for the original technical error
package core

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// The first matching pattern wins, so order matters.
//
// To add a new error pattern:
//  1. Choose the appropriate category and code range
//  2. Add the pattern in the correct position (specific before general)
//  3. Update the package documentation at the top of this file
var errorPatterns = []errorPattern{
	// =========================================================================
	// Import Errors (IMP001-IMP010)
	// =========================================================================
	{
		pattern: "too many concurrent imports",
		msg: UserMessage{
			Message: "System is busy processing other imports",
			Action:  "Please wait a moment and try again",
			Code:    "IMP001",
		},
	},
	{
		pattern: "shutting down",
		msg: UserMessage{
			Message: "The import service is restarting",
			Action:  "Please try again in a few moments",
			Code:    "IMP002",
		},
	},
	{
		pattern: "idempotency key",
		msg: UserMessage{
			Message: "This import key was already used for a different file",
			Action:  "Use a new idempotency key for a changed file",
			Code:    "IMP003",
		},
	},
	{
		pattern: "dependency cycle",
		msg: UserMessage{
			Message: "Animals in the file are listed as each other's parents",
			Action:  "Fix the Dam Name and Sire Name columns of the rows involved",
			Code:    "IMP004",
		},
	},
	{
		pattern: "own parent",
		msg: UserMessage{
			Message: "An animal cannot be its own dam or sire",
			Action:  "Choose a different parent for this row",
			Code:    "IMP005",
		},
	},
	{
		pattern: "both dam and sire",
		msg: UserMessage{
			Message: "The same animal cannot be both dam and sire",
			Action:  "Choose a different dam or sire for this row",
			Code:    "IMP011",
		},
	},
	{
		pattern: "invalid reference",
		msg: UserMessage{
			Message: "A selected animal or breed cannot be used for this row",
			Action:  "Run the preview again and pick from the current suggestions",
			Code:    "IMP006",
		},
	},
	{
		pattern: "preview timed out",
		msg: UserMessage{
			Message: "The file took too long to analyze",
			Action:  "Split the file into smaller files and import them separately",
			Code:    "IMP007",
		},
	},
	{
		pattern: "missing tenant",
		msg: UserMessage{
			Message: "No account was selected for this import",
			Action:  "Sign in again and retry",
			Code:    "IMP008",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "IMP009",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller file or check your connection",
			Code:    "IMP010",
		},
	},

	// =========================================================================
	// Resolution Errors (RES001)
	// =========================================================================
	{
		pattern: "resolution mismatch",
		msg: UserMessage{
			Message: "The decisions do not match the current preview",
			Action:  "Run the preview again and resolve the warnings it shows",
			Code:    "RES001",
		},
	},

	// =========================================================================
	// Database Constraint Errors (DB001-DB003)
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this ID already exists",
			Action:  "Run the preview again to review duplicates",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check for duplicate entries in your file",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Review your data for duplicate key values",
			Code:    "DB002",
		},
	},
	{
		pattern: "foreign key constraint",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Run the preview again and pick from the current suggestions",
			Code:    "DB003",
		},
	},
	{
		pattern: "violates foreign key",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Run the preview again and pick from the current suggestions",
			Code:    "DB003",
		},
	},

	// =========================================================================
	// Database Connection Errors (DB004-DB007)
	// =========================================================================
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},

	// =========================================================================
	// Validation Errors (VAL001-VAL007)
	// =========================================================================
	{
		pattern: "invalid date",
		msg: UserMessage{
			Message: "Invalid date format detected",
			Action:  "Use YYYY-MM-DD or MM/DD/YYYY",
			Code:    "VAL001",
		},
	},
	{
		pattern: "in the future",
		msg: UserMessage{
			Message: "Birth date is in the future",
			Action:  "Check the Birth Date column",
			Code:    "VAL002",
		},
	},
	{
		pattern: "required field",
		msg: UserMessage{
			Message: "Required field is empty",
			Action:  "Fill in Name, Species and Sex for every row",
			Code:    "VAL003",
		},
	},
	{
		pattern: "unknown species",
		msg: UserMessage{
			Message: "Species is not supported",
			Action:  "Use one of the species listed in the import template",
			Code:    "VAL004",
		},
	},
	{
		pattern: "unknown sex",
		msg: UserMessage{
			Message: "Sex is not recognized",
			Action:  "Use male, female or unknown",
			Code:    "VAL005",
		},
	},
	{
		pattern: "invalid status",
		msg: UserMessage{
			Message: "Status is not recognized",
			Action:  "Use active, sold, deceased, retired or breeding",
			Code:    "VAL006",
		},
	},
	{
		pattern: "too long",
		msg: UserMessage{
			Message: "A value is longer than allowed",
			Action:  "Shorten the value and try again",
			Code:    "VAL007",
		},
	},

	// =========================================================================
	// File Errors (FILE001-FILE008)
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the file into smaller files",
			Code:    "FILE001",
		},
	},
	{
		pattern: "malformed csv",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Ensure the file is comma-separated with quoted values closed",
			Code:    "FILE002",
		},
	},
	{
		pattern: "unreadable encoding",
		msg: UserMessage{
			Message: "File contains unreadable characters",
			Action:  "Save the file as CSV (UTF-8) and try again",
			Code:    "FILE003",
		},
	},
	{
		pattern: "unreadable spreadsheet",
		msg: UserMessage{
			Message: "Spreadsheet could not be opened",
			Action:  "Save the file as .xlsx or CSV (UTF-8) and try again",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV or spreadsheet to import",
			Code:    "FILE004",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Please upload a file with a header row and data rows",
			Code:    "FILE005",
		},
	},
	{
		pattern: "missing required header",
		msg: UserMessage{
			Message: "Required column is missing from the file",
			Action:  "Include Name, Species and Sex columns; download the template for reference",
			Code:    "FILE006",
		},
	},
	{
		pattern: "too many rows",
		msg: UserMessage{
			Message: "File has more rows than one import allows",
			Action:  "Split the file into smaller files",
			Code:    "FILE007",
		},
	},
	{
		pattern: "invalid base64",
		msg: UserMessage{
			Message: "File content could not be read",
			Action:  "Send fileContent as standard base64",
			Code:    "FILE008",
		},
	},
	{
		pattern: "malformed request body",
		msg: UserMessage{
			Message: "The request body could not be read",
			Action:  "Send a JSON body with fileContent, resolutions and an optional idempotencyKey",
			Code:    "FILE009",
		},
	},

	// =========================================================================
	// Rate Limiting (RATE001)
	// =========================================================================
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
// Support staff should check application logs for the original technical
// error when users report ERR000.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It searches through known error patterns (case-insensitive) and returns
// the first match. If no pattern matches, a generic fallback message with
// code ERR000 is returned.
//
// Example:
//
//	err := errors.New("duplicate key violation")
//	msg := MapError(err)
//	// msg.Code == "DB001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing checks if an error matches a known pattern and should be shown to users.
// Returns true if the error matches a specific pattern (not the generic ERR000 fallback).
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	msg := MapError(err)
	return msg.Code != defaultMessage.Code
}

// UserError wraps a technical error with a user-friendly message.
// The original error is preserved for logging while providing a clean message for users.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError creates a UserError by mapping a technical error to a user-friendly message.
// Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
