package llm

import (
	"context"
	"fmt"
	"time"
)

// ReadingGenerator produces a deterministic astrology reading from a
// YYYY-MM-DD date of birth. It needs no network and no key, which makes
// it the fallback generator and the one tests run against.
type ReadingGenerator struct{}

// NewReadingGenerator creates a template-based reading generator.
func NewReadingGenerator() *ReadingGenerator {
	return &ReadingGenerator{}
}

// signTraits maps a sun sign to its reading phrase.
var signTraits = map[string]string{
	"Aries":       "bold and energetic",
	"Taurus":      "patient and dependable",
	"Gemini":      "determined and intuitive",
	"Cancer":      "caring and protective",
	"Leo":         "confident and generous",
	"Virgo":       "practical and analytical",
	"Libra":       "diplomatic and fair-minded",
	"Scorpio":     "passionate and resourceful",
	"Sagittarius": "optimistic and adventurous",
	"Capricorn":   "disciplined and ambitious",
	"Aquarius":    "independent and original",
	"Pisces":      "compassionate and artistic",
}

// SunSign returns the western zodiac sign for a date.
func SunSign(t time.Time) string {
	day := t.Day()
	switch t.Month() {
	case time.January:
		if day <= 19 {
			return "Capricorn"
		}
		return "Aquarius"
	case time.February:
		if day <= 18 {
			return "Aquarius"
		}
		return "Pisces"
	case time.March:
		if day <= 20 {
			return "Pisces"
		}
		return "Aries"
	case time.April:
		if day <= 19 {
			return "Aries"
		}
		return "Taurus"
	case time.May:
		if day <= 20 {
			return "Taurus"
		}
		return "Gemini"
	case time.June:
		if day <= 20 {
			return "Gemini"
		}
		return "Cancer"
	case time.July:
		if day <= 22 {
			return "Cancer"
		}
		return "Leo"
	case time.August:
		if day <= 22 {
			return "Leo"
		}
		return "Virgo"
	case time.September:
		if day <= 22 {
			return "Virgo"
		}
		return "Libra"
	case time.October:
		if day <= 22 {
			return "Libra"
		}
		return "Scorpio"
	case time.November:
		if day <= 21 {
			return "Scorpio"
		}
		return "Sagittarius"
	default: // December
		if day <= 21 {
			return "Sagittarius"
		}
		return "Capricorn"
	}
}

// Generate implements the Generator interface. The input is a date of
// birth in YYYY-MM-DD form; extra is ignored.
func (g *ReadingGenerator) Generate(_ context.Context, input, _ string) (string, error) {
	dob, err := time.Parse("2006-01-02", input)
	if err != nil {
		return "", fmt.Errorf("invalid date of birth %q: expected YYYY-MM-DD", input)
	}
	return fmt.Sprintf("You are %s.", signTraits[SunSign(dob)]), nil
}

// Ensure ReadingGenerator implements Generator.
var _ Generator = (*ReadingGenerator)(nil)
