package spreadsheet

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, dataRows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	_, err := f.NewSheet("data")
	require.NoError(t, err)

	for i, row := range dataRows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		values := row
		require.NoError(t, f.SetSheetRow("data", cell, &values))
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestRecordsUsesFourthRowAsHeader(t *testing.T) {
	content := buildWorkbook(t, [][]any{
		{"QC order sheet"},
		{},
		{"exported"},
		{"순번", "품명", "품명", " 수량 "},
		{1, "Widget", "Alt", 10},
		{},
		{2, "Bolt", nil, 3.5},
	})

	wb, err := NewOpener().Open(content)
	require.NoError(t, err)
	defer wb.Close()

	require.Equal(t, 2, wb.SheetCount())

	records, err := wb.Records(1, 3)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "1", records[0]["순번"])
	require.Equal(t, "Widget", records[0]["품명"])
	require.Equal(t, "Alt", records[0]["품명_1"])
	require.Equal(t, "10", records[0]["수량"])
	require.Equal(t, "3.5", records[1]["수량"])
	_, hasDup := records[1]["품명_1"]
	require.False(t, hasDup)
}

func TestRecordsWithoutHeaderReturnsNothing(t *testing.T) {
	content := buildWorkbook(t, [][]any{{"title"}})

	wb, err := NewOpener().Open(content)
	require.NoError(t, err)
	defer wb.Close()

	records, err := wb.Records(1, 3)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestRecordsRejectsMissingSheet(t *testing.T) {
	content := buildWorkbook(t, nil)

	wb, err := NewOpener().Open(content)
	require.NoError(t, err)
	defer wb.Close()

	_, err = wb.Records(5, 3)
	require.Error(t, err)
}

func TestOpenRejectsGarbage(t *testing.T) {
	_, err := NewOpener().Open([]byte("not a workbook"))
	require.Error(t, err)

	_, err = NewOpener().Open(nil)
	require.Error(t, err)
}
