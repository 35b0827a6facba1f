package usecase

import (
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/qc-inspection/internal/core/domain"
	"github.com/kirillkom/qc-inspection/internal/core/ports"
)

var orderHeader = []any{"순번", "년도", "월", "일", "구분", "최종발주번호", "품명", "수량", "단가"}

// buildOrderWorkbook writes a two-sheet workbook whose second sheet has three
// banner rows, the header row and the given data rows.
func buildOrderWorkbook(t *testing.T, header []any, rows ...[]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet("orders"); err != nil {
		t.Fatalf("NewSheet() error = %v", err)
	}
	lines := append([][]any{{"QC order ledger"}, {"2026"}, {""}, header}, rows...)
	for i, line := range lines {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("CoordinatesToCellName() error = %v", err)
		}
		values := line
		if err := f.SetSheetRow("orders", cell, &values); err != nil {
			t.Fatalf("SetSheetRow() error = %v", err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer() error = %v", err)
	}
	return buf.Bytes()
}

type workbookFake struct {
	sheets     int
	records    []domain.RawRow
	recordsErr error
	closed     bool
}

func (w *workbookFake) SheetCount() int { return w.sheets }

func (w *workbookFake) Records(int, int) ([]domain.RawRow, error) {
	if w.recordsErr != nil {
		return nil, w.recordsErr
	}
	return w.records, nil
}

func (w *workbookFake) Close() error {
	w.closed = true
	return nil
}

type openerFake struct {
	wb  *workbookFake
	err error
}

func (o *openerFake) Open([]byte) (ports.Workbook, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.wb, nil
}

var errCorrupt = errors.New("zip: not a valid zip file")

func validRaw(seq string) domain.RawRow {
	return domain.RawRow{
		"순번": seq, "년도": "2026", "월": "3", "일": "14", "구분": "A",
		"최종발주번호": "T00000-" + seq, "품명": "Widget",
	}
}
