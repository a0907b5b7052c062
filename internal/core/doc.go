// Package core provides the business logic for animal registry imports.
//
// The package holds the whole import engine independent of any storage or
// transport. Web handlers, tests and tools drive it through [Service] and
// supply a [Store].
//
// # Phases
//
// An import runs in two calls that share nothing but the file bytes:
//
//  1. [Service.Preview] decodes the file, validates every row, resolves the
//     valid ones against the registry and classifies each row as valid,
//     warning or error.
//  2. [Service.Execute] receives the same file plus one [RowResolution] per
//     finding the human chose to act on. It repeats the preview, matches the
//     resolutions to the fresh findings, plans every row and commits the
//     batch in a single [Store.WithTx] call.
//
// Because execute repeats the preview, a resolution built from a stale
// preview is detected and rejected as a [ResolutionError] instead of being
// applied to the wrong row.
//
// # Findings
//
// A warning row carries one or more findings, reported in precedence order
// duplicate, parent_not_found (dam, then sire), breed_not_found. The first
// is the row's warningType; the rest are listed in findings and may be
// resolved individually. A finding left unresolved falls back to skip: the
// row is skipped when its primary finding has no decision, and a secondary
// reference is left empty.
//
// # Parents within one file
//
// A Dam or Sire name that names another valid row of the same species links
// to that row. Execute orders such rows so parents are written first and
// fails the batch with a [CycleError] when the references loop.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - DB001-DB007: Database errors (duplicates, constraints, connections)
//   - VAL001-VAL007: Row validation errors
//   - FILE001-FILE008: File errors (size, encoding, headers, row cap)
//   - IMP001-IMP010: Import errors (busy, idempotency, cycles, references)
//   - RES001: Resolution mismatch
package core
