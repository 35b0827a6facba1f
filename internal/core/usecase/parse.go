package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirillkom/qc-inspection/internal/core/domain"
	"github.com/kirillkom/qc-inspection/internal/core/ports"
)

const parseProgressEvery = 500

type OrderParser struct {
	opener ports.WorkbookOpener
}

func NewOrderParser(opener ports.WorkbookOpener) *OrderParser {
	return &OrderParser{opener: opener}
}

// Parse reads the data sheet and transforms every row. Row problems are
// collected in the summary; only workbook-level problems return an error.
func (p *OrderParser) Parse(ctx context.Context, file domain.SpreadsheetFile, progress domain.ProgressFunc) (*domain.ParseResult, error) {
	report := progressOrNoop(progress)

	wb, err := p.opener.Open(file.Content)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse workbook", err)
	}
	defer wb.Close()
	report(10, "workbook opened")

	if n := wb.SheetCount(); n < DataSheetIndex+1 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse workbook",
			fmt.Errorf("workbook must contain at least %d sheets, found %d", DataSheetIndex+1, n))
	}

	records, err := wb.Records(DataSheetIndex, HeaderOffset)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read data sheet", err)
	}
	if len(records) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read data sheet", errors.New("no data rows"))
	}
	report(20, fmt.Sprintf("transforming %d rows", len(records)))

	result := TransformRows(ctx, records, func(done, total int) {
		report(20+done*79/total, fmt.Sprintf("transformed %d/%d rows", done, total))
	})
	if err := ctx.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrCancelled, "parse workbook", err)
	}

	report(100, fmt.Sprintf("parsed %d valid, %d invalid rows", result.Summary.Valid, result.Summary.Invalid))
	return result, nil
}

// TransformRows maps raw rows in order. Row numbers in errors are 1-based
// positions within records. It stops early, with a partial result, when ctx
// ends.
func TransformRows(ctx context.Context, records []domain.RawRow, onStep func(done, total int)) *domain.ParseResult {
	result := &domain.ParseResult{
		Data: make([]domain.OrderRow, 0, len(records)),
		Summary: domain.ValidationSummary{
			Errors:   []domain.RowError{},
			Warnings: []string{},
		},
	}

	cleared := 0
	for i, raw := range records {
		if i%parseProgressEvery == 0 && i > 0 {
			if ctx.Err() != nil {
				break
			}
			if onStep != nil {
				onStep(i, len(records))
			}
		}

		result.Summary.Total++
		row, n, err := mapRow(raw)
		cleared += n
		if err != nil {
			result.Summary.Invalid++
			result.Summary.Errors = append(result.Summary.Errors, domain.RowError{Row: i + 1, Message: err.Error()})
			continue
		}
		result.Summary.Valid++
		result.Data = append(result.Data, row)
	}

	if cleared > 0 {
		result.Summary.Warnings = append(result.Summary.Warnings,
			fmt.Sprintf("%d numeric values were invalid or out of range and were left empty", cleared))
	}
	if result.Summary.Invalid > 0 {
		result.Summary.Warnings = append(result.Summary.Warnings,
			fmt.Sprintf("%d of %d rows were skipped", result.Summary.Invalid, result.Summary.Total))
	}
	return result
}
