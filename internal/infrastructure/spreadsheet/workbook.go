package spreadsheet

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/qc-inspection/internal/core/domain"
	"github.com/kirillkom/qc-inspection/internal/core/ports"
)

// Opener decodes OOXML workbooks with excelize.
type Opener struct{}

func NewOpener() *Opener {
	return &Opener{}
}

func (o *Opener) Open(content []byte) (ports.Workbook, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("open workbook: empty content")
	}
	file, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	return &Workbook{file: file}, nil
}

type Workbook struct {
	file *excelize.File
}

func (w *Workbook) SheetCount() int {
	return len(w.file.GetSheetList())
}

func (w *Workbook) Records(sheetIndex, headerOffset int) ([]domain.RawRow, error) {
	sheets := w.file.GetSheetList()
	if sheetIndex < 0 || sheetIndex >= len(sheets) {
		return nil, fmt.Errorf("sheet index %d out of range (%d sheets)", sheetIndex, len(sheets))
	}

	rows, err := w.file.GetRows(sheets[sheetIndex], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read rows of %q: %w", sheets[sheetIndex], err)
	}
	if len(rows) <= headerOffset {
		return nil, nil
	}

	header := headerKeys(rows[headerOffset])
	out := make([]domain.RawRow, 0, len(rows)-headerOffset-1)
	for _, cells := range rows[headerOffset+1:] {
		record := make(domain.RawRow, len(cells))
		for i, cell := range cells {
			if i >= len(header) || header[i] == "" {
				continue
			}
			if strings.TrimSpace(cell) == "" {
				continue
			}
			record[header[i]] = cell
		}
		if len(record) == 0 {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func (w *Workbook) Close() error {
	return w.file.Close()
}

// headerKeys trims header cells and suffixes repeated names with _1, _2, ...
func headerKeys(cells []string) []string {
	keys := make([]string, len(cells))
	seen := make(map[string]int, len(cells))
	for i, cell := range cells {
		name := strings.TrimSpace(cell)
		if name == "" {
			continue
		}
		if n, ok := seen[name]; ok {
			seen[name] = n + 1
			keys[i] = name + "_" + strconv.Itoa(n+1)
			continue
		}
		seen[name] = 0
		keys[i] = name
	}
	return keys
}
