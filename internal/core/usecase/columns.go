package usecase

import (
	"math"
	"strings"

	"github.com/kirillkom/qc-inspection/internal/core/domain"
)

const (
	// DataSheetIndex is the zero-based index of the sheet holding order rows.
	DataSheetIndex = 1
	// HeaderOffset is the number of banner rows above the header row.
	HeaderOffset = 3
)

// column lists the header names a canonical field may appear under, in
// priority order.
type column struct {
	Field      string
	Candidates []string
}

type textColumn struct {
	column
	set func(*domain.OrderRow, *string)
}

type numberColumn struct {
	column
	clamp bool
	set   func(*domain.OrderRow, *float64)
}

var sequenceColumn = column{Field: "col0", Candidates: []string{"순번", "col0", "No"}}

var (
	yearColumn     = column{Field: "year", Candidates: []string{"년도", "year"}}
	monthColumn    = column{Field: "month", Candidates: []string{"월", "month"}}
	dayColumn      = column{Field: "day", Candidates: []string{"일", "day"}}
	categoryColumn = column{Field: "category", Candidates: []string{"구분", "category"}}
)

// requiredColumns must be present in the first data row of a workbook.
var requiredColumns = []column{yearColumn, monthColumn, dayColumn, categoryColumn}

var textColumns = []textColumn{
	{categoryColumn, func(r *domain.OrderRow, v *string) { r.Category = v }},
	{column{"finalOrderNumber", []string{"최종발주번호", "finalOrderNumber", "finalorderNumber"}}, func(r *domain.OrderRow, v *string) { r.FinalOrderNumber = v }},
	{column{"orderNumber", []string{"발주번호", "orderNumber"}}, func(r *domain.OrderRow, v *string) { r.OrderNumber = v }},
	{column{"code", []string{"코드", "code"}}, func(r *domain.OrderRow, v *string) { r.Code = v }},
	{column{"registration", []string{"등록", "registration"}}, func(r *domain.OrderRow, v *string) { r.Registration = v }},
	{column{"customer", []string{"고객사", "customer"}}, func(r *domain.OrderRow, v *string) { r.Customer = v }},
	{column{"productName", []string{"품명", "productName"}}, func(r *domain.OrderRow, v *string) { r.ProductName = v }},
	{column{"partName", []string{"부품명", "partName"}}, func(r *domain.OrderRow, v *string) { r.PartName = v }},
	{column{"specification", []string{"규격", "specification"}}, func(r *domain.OrderRow, v *string) { r.Specification = v }},
	{column{"postProcess", []string{"후처리", "postProcess"}}, func(r *domain.OrderRow, v *string) { r.PostProcess = v }},
	{column{"status", []string{"상태", "status"}}, func(r *domain.OrderRow, v *string) { r.Status = v }},
	{column{"manager", []string{"담당자", "manager"}}, func(r *domain.OrderRow, v *string) { r.Manager = v }},
	{column{"dueDate", []string{"납기일", "dueDate"}}, func(r *domain.OrderRow, v *string) { r.DueDate = v }},
	{column{"remark", []string{"비고", "remark"}}, func(r *domain.OrderRow, v *string) { r.Remark = v }},
}

var numberColumns = []numberColumn{
	{yearColumn, false, func(r *domain.OrderRow, v *float64) { r.Year = v }},
	{monthColumn, false, func(r *domain.OrderRow, v *float64) { r.Month = v }},
	{dayColumn, false, func(r *domain.OrderRow, v *float64) { r.Day = v }},
	{column{"quantity", []string{"수량", "quantity"}}, true, func(r *domain.OrderRow, v *float64) { r.Quantity = v }},
	{column{"production", []string{"생산", "production"}}, true, func(r *domain.OrderRow, v *float64) { r.Production = v }},
	{column{"remaining", []string{"잔량", "remaining"}}, true, func(r *domain.OrderRow, v *float64) { r.Remaining = v }},
	{column{"unitPrice", []string{"단가", "unitPrice"}}, true, func(r *domain.OrderRow, v *float64) { r.UnitPrice = v }},
	{column{"orderAmount", []string{"발주금액", "orderAmount"}}, true, func(r *domain.OrderRow, v *float64) { r.OrderAmount = v }},
}

// lookup returns the first non-blank value among the column's candidates.
func (c column) lookup(raw domain.RawRow) (string, bool) {
	for _, key := range c.Candidates {
		if v, ok := raw[key]; ok && strings.TrimSpace(v) != "" {
			return v, true
		}
	}
	return "", false
}

// present reports whether any candidate key exists in the row.
func (c column) present(raw domain.RawRow) bool {
	for _, key := range c.Candidates {
		if _, ok := raw[key]; ok {
			return true
		}
	}
	return false
}

type rowRejection string

func (r rowRejection) Error() string { return string(r) }

const (
	errMissingSequence rowRejection = "missing or non-numeric sequence number (순번)"
	errMissingIdentity rowRejection = "finalOrderNumber (최종발주번호) or productName (품명) is required"
)

// mapRow converts one raw row into a typed order row. cleared counts numeric
// cells that were present but dropped as non-finite or out of range.
func mapRow(raw domain.RawRow) (row domain.OrderRow, cleared int, err error) {
	seqRaw, ok := sequenceColumn.lookup(raw)
	if !ok {
		return domain.OrderRow{}, 0, errMissingSequence
	}
	seq, ok := parseSequence(seqRaw)
	if !ok {
		return domain.OrderRow{}, 0, errMissingSequence
	}
	row.Col0 = seq

	for _, c := range textColumns {
		v, _ := c.lookup(raw)
		c.set(&row, SanitizeText(v))
	}

	for _, c := range numberColumns {
		v, ok := c.lookup(raw)
		if !ok {
			continue
		}
		var parsed *float64
		if c.clamp {
			parsed = ParseAmount(v)
		} else {
			parsed = parseFinite(v)
		}
		if parsed == nil {
			cleared++
		}
		c.set(&row, parsed)
	}

	if !row.HasIdentity() {
		return domain.OrderRow{}, cleared, errMissingIdentity
	}
	return row, cleared, nil
}

func textFields(r *domain.OrderRow) []**string {
	return []**string{
		&r.Category, &r.FinalOrderNumber, &r.OrderNumber, &r.Code, &r.Registration,
		&r.Customer, &r.ProductName, &r.PartName, &r.Specification, &r.PostProcess,
		&r.Status, &r.Manager, &r.DueDate, &r.Remark,
	}
}

func amountFields(r *domain.OrderRow) []**float64 {
	return []**float64{&r.Quantity, &r.Production, &r.Remaining, &r.UnitPrice, &r.OrderAmount}
}

// normalizeRow re-applies sanitization and the amount range to a row that
// arrived over the wire. It returns how many amounts were cleared.
func normalizeRow(r *domain.OrderRow) int {
	for _, field := range textFields(r) {
		if *field != nil {
			*field = SanitizeText(**field)
		}
	}
	cleared := 0
	for _, field := range amountFields(r) {
		if *field == nil {
			continue
		}
		if v := **field; math.IsNaN(v) || v < MinAmount || v > MaxAmount {
			*field = nil
			cleared++
		}
	}
	return cleared
}
