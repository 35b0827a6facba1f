package background

import "github.com/kirillkom/qc-inspection/internal/core/domain"

// Request is work submitted to the worker. The set is closed: only the
// types in this file implement it.
type Request interface {
	isRequest()
}

type ValidateRequest struct {
	File domain.SpreadsheetFile
}

type ParseRequest struct {
	File domain.SpreadsheetFile
}

// ChunkRequest splits rows for upload. ChunkSize <= 0 selects the size from
// the worker's chunk plan.
type ChunkRequest struct {
	Rows      []domain.OrderRow
	ChunkSize int
}

func (ValidateRequest) isRequest() {}
func (ParseRequest) isRequest()    {}
func (ChunkRequest) isRequest()    {}

// Message is emitted by the worker. Ready appears once per actor on the
// lifecycle channel; the others arrive on the reply channel of a request,
// which always ends with exactly one Complete or Failed.
type Message interface {
	isMessage()
}

type Ready struct{}

type Progress struct {
	Percent int
	Message string
}

// Complete carries the result of the request kind that produced it; the
// other fields stay empty.
type Complete struct {
	Validation *domain.ValidationResult
	Parse      *domain.ParseResult
	Chunks     [][]domain.OrderRow
}

type Failed struct {
	Err     error
	Details string
}

func (Ready) isMessage()    {}
func (Progress) isMessage() {}
func (Complete) isMessage() {}
func (Failed) isMessage()   {}
