package usecase

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/kirillkom/qc-inspection/internal/core/domain"
	"github.com/kirillkom/qc-inspection/internal/core/ports"
)

const megabyte = 1 << 20

// ValidatorLimits configures one validation entry point.
type ValidatorLimits struct {
	MaxFileSize       int64
	AllowedExtensions []string
	WarnRowCount      int
	PreviewRows       int
}

// StandardLimits apply to the regular desktop import path.
func StandardLimits() ValidatorLimits {
	return ValidatorLimits{
		MaxFileSize:       10 * megabyte,
		AllowedExtensions: []string{".xlsx", ".xls"},
		WarnRowCount:      5000,
		PreviewRows:       5,
	}
}

// CompactLimits apply to the constrained (mobile) import path.
func CompactLimits() ValidatorLimits {
	limits := StandardLimits()
	limits.MaxFileSize = 5 * megabyte
	return limits
}

func (l ValidatorLimits) normalize() ValidatorLimits {
	def := StandardLimits()
	if l.MaxFileSize <= 0 {
		l.MaxFileSize = def.MaxFileSize
	}
	if len(l.AllowedExtensions) == 0 {
		l.AllowedExtensions = def.AllowedExtensions
	}
	if l.WarnRowCount <= 0 {
		l.WarnRowCount = def.WarnRowCount
	}
	if l.PreviewRows < 0 {
		l.PreviewRows = def.PreviewRows
	}
	return l
}

type FileValidator struct {
	opener ports.WorkbookOpener
	limits ValidatorLimits
}

func NewFileValidator(opener ports.WorkbookOpener, limits ValidatorLimits) *FileValidator {
	return &FileValidator{
		opener: opener,
		limits: limits.normalize(),
	}
}

func (v *FileValidator) Limits() ValidatorLimits {
	return v.limits
}

// Validate checks extension, size, sheet layout and required columns, in
// that order, stopping at the first hard failure.
func (v *FileValidator) Validate(ctx context.Context, file domain.SpreadsheetFile, progress domain.ProgressFunc) domain.ValidationResult {
	report := progressOrNoop(progress)
	result := domain.ValidationResult{
		Errors:      []string{},
		Warnings:    []string{},
		PreviewData: []domain.RawRow{},
	}
	fail := func(format string, args ...any) domain.ValidationResult {
		result.IsValid = false
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
		return result
	}

	if ext, ok := allowedExtension(file.Name, v.limits.AllowedExtensions); !ok {
		return fail("unsupported file type %q: allowed %s", ext, strings.Join(v.limits.AllowedExtensions, ", "))
	}

	size := file.Size
	if size <= 0 {
		size = int64(len(file.Content))
	}
	if size > v.limits.MaxFileSize {
		return fail("file size %s exceeds the %s limit", formatBytes(size), formatBytes(v.limits.MaxFileSize))
	}
	report(10, "file metadata checked")

	if err := ctx.Err(); err != nil {
		return fail("validation cancelled: %v", err)
	}

	wb, err := v.opener.Open(file.Content)
	if err != nil {
		return fail("unreadable workbook: %v", err)
	}
	defer wb.Close()
	report(40, "workbook opened")

	if n := wb.SheetCount(); n < DataSheetIndex+1 {
		return fail("workbook must contain at least %d sheets, found %d", DataSheetIndex+1, n)
	}

	records, err := wb.Records(DataSheetIndex, HeaderOffset)
	if err != nil {
		return fail("unreadable data sheet: %v", err)
	}
	if len(records) == 0 {
		return fail("no data rows found below the header of sheet %d", DataSheetIndex+1)
	}
	report(70, fmt.Sprintf("%d data rows found", len(records)))

	var missing []string
	for _, c := range requiredColumns {
		if !c.present(records[0]) {
			missing = append(missing, c.Candidates[0])
		}
	}
	if len(missing) > 0 {
		return fail("missing required columns: %s", strings.Join(missing, ", "))
	}

	result.IsValid = true
	result.RowCount = len(records)
	if len(records) > v.limits.WarnRowCount {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("large file: %d rows exceeds %d, processing may take a while", len(records), v.limits.WarnRowCount))
	}
	result.PreviewData = append(result.PreviewData, records[:min(v.limits.PreviewRows, len(records))]...)

	report(100, "validation complete")
	return result
}

func allowedExtension(name string, allowed []string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	return ext, slices.Contains(allowed, ext)
}

func formatBytes(n int64) string {
	if n >= megabyte {
		return fmt.Sprintf("%.1fMB", float64(n)/megabyte)
	}
	if n >= 1<<10 {
		return fmt.Sprintf("%.1fKB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%dB", n)
}

func progressOrNoop(fn domain.ProgressFunc) domain.ProgressFunc {
	if fn == nil {
		return func(int, string) {}
	}
	return fn
}
