package usecase

import (
	"errors"
	"testing"

	"github.com/kirillkom/qc-inspection/internal/core/domain"
)

func TestMapRowPrefersFirstNonEmptyCandidate(t *testing.T) {
	raw := domain.RawRow{
		"순번":             "3",
		"품명":             "  ",
		"productName":    "Fallback widget",
		"최종발주번호":         "T1",
		"finalOrderNumber": "ignored",
		"수량":             "5",
		"quantity":       "9",
	}

	row, cleared, err := mapRow(raw)
	if err != nil {
		t.Fatalf("mapRow() error = %v", err)
	}
	if cleared != 0 {
		t.Fatalf("expected no cleared numbers, got %d", cleared)
	}
	if row.Col0 != 3 {
		t.Fatalf("expected col0=3, got %d", row.Col0)
	}
	if row.ProductName == nil || *row.ProductName != "Fallback widget" {
		t.Fatalf("expected english fallback for productName, got %v", row.ProductName)
	}
	if row.FinalOrderNumber == nil || *row.FinalOrderNumber != "T1" {
		t.Fatalf("expected korean header to win, got %v", row.FinalOrderNumber)
	}
	if row.Quantity == nil || *row.Quantity != 5 {
		t.Fatalf("expected quantity 5, got %v", row.Quantity)
	}
	if row.Customer != nil {
		t.Fatalf("expected nil customer for absent column")
	}
}

func TestMapRowRejectsMissingSequence(t *testing.T) {
	for _, raw := range []domain.RawRow{
		{"품명": "Widget"},
		{"순번": "abc", "품명": "Widget"},
	} {
		_, _, err := mapRow(raw)
		if !errors.Is(err, errMissingSequence) {
			t.Fatalf("expected missing sequence rejection, got %v", err)
		}
	}
}

func TestMapRowRejectsRowWithoutIdentity(t *testing.T) {
	_, _, err := mapRow(domain.RawRow{"col0": "1", "finalorderNumber": " ", "productName": "<b></b>"})
	if !errors.Is(err, errMissingIdentity) {
		t.Fatalf("expected identity rejection, got %v", err)
	}
}

func TestMapRowClearsOutOfRangeNumbers(t *testing.T) {
	raw := validRaw("1")
	raw["단가"] = "-5"
	raw["발주금액"] = "1e12"
	raw["년도"] = "-2026"

	row, cleared, err := mapRow(raw)
	if err != nil {
		t.Fatalf("mapRow() error = %v", err)
	}
	if row.UnitPrice != nil || row.OrderAmount != nil {
		t.Fatalf("expected out-of-range amounts to be nil")
	}
	if row.Year == nil || *row.Year != -2026 {
		t.Fatalf("year is only checked for finiteness, got %v", row.Year)
	}
	if cleared != 2 {
		t.Fatalf("expected 2 cleared values, got %d", cleared)
	}
}
