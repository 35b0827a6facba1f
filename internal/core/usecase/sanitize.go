package usecase

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	MaxTextLength = 500
	MinAmount     = 0
	MaxAmount     = 999999999
)

var (
	tagPattern    = regexp.MustCompile(`<[^>]*>`)
	intPrefix     = regexp.MustCompile(`^[+-]?\d+`)
	numericPrefix = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)
)

// SanitizeText strips tag-like markup, trims and caps the text. Blank
// results become nil. Applying it to its own output is a no-op.
func SanitizeText(raw string) *string {
	text := sanitizeString(raw)
	if text == "" {
		return nil
	}
	return &text
}

func sanitizeString(raw string) string {
	text := tagPattern.ReplaceAllString(raw, "")
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > MaxTextLength {
		text = strings.TrimSpace(string([]rune(text)[:MaxTextLength]))
	}
	return text
}

// ParseAmount reads a numeric cell and keeps it only when it is finite and
// inside [MinAmount, MaxAmount].
func ParseAmount(raw string) *float64 {
	v := parseFinite(raw)
	if v == nil || *v < MinAmount || *v > MaxAmount {
		return nil
	}
	return v
}

// parseFinite reads the leading number of a cell, ignoring thousands
// separators.
func parseFinite(raw string) *float64 {
	text := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	match := numericPrefix.FindString(text)
	if match == "" {
		return nil
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func parseSequence(raw string) (int, bool) {
	match := intPrefix.FindString(strings.TrimSpace(raw))
	if match == "" {
		return 0, false
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0, false
	}
	return n, true
}
