package core

// preview.go runs decode, validate, resolve and aggregate over one file.
//
// Rows are validated in file order, then resolved in parallel by a bounded
// errgroup. Each worker writes only its own slot of the findings slice, so
// the gathered output is ordered by row number without sorting.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/herdbook/internal/logging"
	"golang.org/x/sync/errgroup"
)

// ErrPreviewTimeout is returned when a file takes longer than the configured
// preview timeout to analyze.
var ErrPreviewTimeout = errors.New("import preview timed out")

// Preview classifies every row of data without writing anything.
func (s *Service) Preview(ctx context.Context, scope Scope, data []byte) (*ImportPreview, error) {
	if !scope.Valid() {
		return nil, ErrMissingTenant
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	start := time.Now()
	rows, err := s.analyze(ctx, scope, s.store, data)
	if err != nil {
		return nil, err
	}

	preview := &ImportPreview{
		Summary:          summarize(rows),
		Rows:             rows,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}

	logging.FromContext(ctx).Info("import preview completed",
		"tenant", scope.TenantID,
		"total", preview.Summary.TotalRows,
		"valid", preview.Summary.ValidRows,
		"warning", preview.Summary.WarningRows,
		"error", preview.Summary.ErrorRows,
		"duration_ms", preview.ProcessingTimeMs,
	)
	return preview, nil
}

// parsedFile is a decoded and validated file, ready to be resolved.
type parsedFile struct {
	raw       []RawRow
	records   []*ParsedRecord
	fieldErrs [][]FieldError
	index     fileIndex
}

// analyze is the shared front half of preview and execute. Preview reads
// committed state; execute passes its transaction so duplicate and parent
// decisions are made under the tenant's commit lock.
func (s *Service) analyze(ctx context.Context, scope Scope, r Reader, data []byte) ([]RowResult, error) {
	pf, err := s.parse(data)
	if err != nil {
		return nil, err
	}
	return s.classify(ctx, scope, r, pf)
}

func (s *Service) parse(data []byte) (*parsedFile, error) {
	raw, err := Decode(data, s.opts.MaxRows)
	if err != nil {
		return nil, err
	}

	now := s.now()
	pf := &parsedFile{
		raw:       raw,
		records:   make([]*ParsedRecord, len(raw)),
		fieldErrs: make([][]FieldError, len(raw)),
		index:     make(fileIndex),
	}
	for i, row := range raw {
		rec, errs := ValidateRow(row, now)
		if len(errs) > 0 {
			pf.fieldErrs[i] = errs
			continue
		}
		pf.records[i] = &rec
		pf.index.add(row.Number, rec)
	}
	return pf, nil
}

// classify resolves every valid record against r and aggregates the rows.
func (s *Service) classify(ctx context.Context, scope Scope, r Reader, pf *parsedFile) ([]RowResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.PreviewTimeout)
	defer cancel()

	res := newResolver(&serialReader{r: r}, s.catalog, scope, pf.index, s.resolverOptions())
	findings := make([]Findings, len(pf.raw))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i := range pf.raw {
		if pf.records[i] == nil {
			continue
		}
		g.Go(func() error {
			f, err := res.resolve(gctx, pf.raw[i].Number, *pf.records[i])
			if err != nil {
				return fmt.Errorf("resolve row %d: %w", pf.raw[i].Number, err)
			}
			findings[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrPreviewTimeout, s.opts.PreviewTimeout)
		}
		return nil, err
	}

	rows := make([]RowResult, len(pf.raw))
	for i, row := range pf.raw {
		rows[i] = aggregate(row.Number, pf.records[i], pf.fieldErrs[i], findings[i])
	}
	return rows, nil
}

// aggregate classifies one row. Field errors win over everything; otherwise
// the first finding in precedence order is the row's warning.
func aggregate(rowNumber int, rec *ParsedRecord, errs []FieldError, f Findings) RowResult {
	if len(errs) > 0 || rec == nil {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return RowResult{RowNumber: rowNumber, Status: RowError, Errors: msgs}
	}

	r := RowResult{RowNumber: rowNumber, Status: RowValid, Record: rec, links: f}
	if list := f.List(); len(list) > 0 {
		r.Status = RowWarning
		r.Warning = list[0]
		r.Findings = list
	}
	return r
}

func summarize(rows []RowResult) PreviewSummary {
	sum := PreviewSummary{TotalRows: len(rows)}
	for _, r := range rows {
		switch r.Status {
		case RowValid:
			sum.ValidRows++
		case RowWarning:
			sum.WarningRows++
		case RowError:
			sum.ErrorRows++
		}
	}
	return sum
}
