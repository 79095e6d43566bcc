package conversation

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/width"

	"github.com/m3rciful/keyshop/internal/domain"
)

// MaxTextLen bounds titles and secrets, in runes.
const MaxTextLen = 255

var (
	priceRe  = regexp.MustCompile(`^\d+(\.\d+)?$`)
	maxPrice = decimal.New(1, 8)

	digitFolder = strings.NewReplacer(
		"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
		"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
		"۰", "0", "۱", "1", "۲", "2", "۳", "3", "۴", "4",
		"۵", "5", "۶", "6", "۷", "7", "۸", "8", "۹", "9",
		"٫", ".", ",", ".",
	)
)

// ValidateText trims s and checks it is a non-empty string of at most MaxTextLen runes.
func ValidateText(step Step, field, s string) (string, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return "", &domain.ValidationError{Step: string(step), Field: field, Reason: "must not be empty"}
	case utf8.RuneCountInString(s) > MaxTextLen:
		return "", &domain.ValidationError{Step: string(step), Field: field, Reason: "too long"}
	}
	return s, nil
}

// ParsePrice accepts a non-negative decimal with at most two fractional
// digits below 10^8. Full-width and Arabic-Indic digits are folded to ASCII
// and both comma and the Arabic decimal separator are read as a point.
func ParsePrice(s string) (decimal.Decimal, error) {
	invalid := func(reason string) (decimal.Decimal, error) {
		return decimal.Zero, &domain.ValidationError{Field: "price", Reason: reason}
	}
	s = digitFolder.Replace(width.Narrow.String(strings.TrimSpace(s)))
	if s == "" {
		return invalid("must not be empty")
	}
	if strings.HasPrefix(s, "-") {
		return invalid("must not be negative")
	}
	if !priceRe.MatchString(s) {
		return invalid("not a number")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return invalid("not a number")
	}
	if !d.Equal(d.Round(2)) {
		return invalid("at most 2 decimal places")
	}
	if d.GreaterThanOrEqual(maxPrice) {
		return invalid("too large")
	}
	return d, nil
}
