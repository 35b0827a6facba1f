package domain

// RawRow maps a header cell of the data sheet to the raw cell text of one
// data row. Empty cells are absent.
type RawRow map[string]string

// OrderRow is the typed record produced from one RawRow. Pointer fields are
// nil when the source cell was empty, invalid or out of range.
type OrderRow struct {
	Col0 int `json:"col0"`

	Year  *float64 `json:"year"`
	Month *float64 `json:"month"`
	Day   *float64 `json:"day"`

	Category         *string `json:"category"`
	FinalOrderNumber *string `json:"finalOrderNumber"`
	OrderNumber      *string `json:"orderNumber"`
	Code             *string `json:"code"`
	Registration     *string `json:"registration"`
	Customer         *string `json:"customer"`
	ProductName      *string `json:"productName"`
	PartName         *string `json:"partName"`
	Specification    *string `json:"specification"`
	PostProcess      *string `json:"postProcess"`
	Status           *string `json:"status"`
	Manager          *string `json:"manager"`
	DueDate          *string `json:"dueDate"`
	Remark           *string `json:"remark"`

	Quantity    *float64 `json:"quantity"`
	Production  *float64 `json:"production"`
	Remaining   *float64 `json:"remaining"`
	UnitPrice   *float64 `json:"unitPrice"`
	OrderAmount *float64 `json:"orderAmount"`
}

// HasIdentity reports whether the row carries at least one of the fields
// that identify an order line.
func (r OrderRow) HasIdentity() bool {
	return r.FinalOrderNumber != nil || r.ProductName != nil
}

type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ValidationSummary is built once per parsed file.
type ValidationSummary struct {
	Total    int        `json:"total"`
	Valid    int        `json:"valid"`
	Invalid  int        `json:"invalid"`
	Errors   []RowError `json:"errors"`
	Warnings []string   `json:"warnings"`
}

type ParseResult struct {
	Data    []OrderRow        `json:"data"`
	Summary ValidationSummary `json:"summary"`
}

type ValidationResult struct {
	IsValid     bool     `json:"isValid"`
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
	RowCount    int      `json:"rowCount"`
	PreviewData []RawRow `json:"previewData"`
}

// SpreadsheetFile is an uploaded workbook held in memory.
type SpreadsheetFile struct {
	Name    string
	Size    int64
	Content []byte
}

// ProgressFunc receives a 0-100 percentage and a human readable message.
type ProgressFunc func(percent int, message string)

// ImportMode selects the file-size ceiling applied to an entry point.
type ImportMode string

const (
	ImportModeStandard ImportMode = "standard"
	ImportModeCompact  ImportMode = "compact"
)
