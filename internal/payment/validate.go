package payment

import (
	"regexp"
	"strconv"
	"strings"
)

// MinAmount is the smallest accepted payment in rubles.
const MinAmount = 100

var (
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	// amountRe accepts integers or up to two fraction digits. "100." and
	// "99.999" are rejected by shape, "1e2" by shape and parse.
	amountRe = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)
)

// IsValidEmail reports whether s looks like a deliverable address. The check
// is intentionally shallow; real validation happens when the gateway emails
// the receipt.
func IsValidEmail(s string) bool {
	return emailRe.MatchString(strings.TrimSpace(s))
}

// IsValidAmount reports whether s is a decimal amount with at most two
// fraction digits and at least MinAmount. Shape and numeric value are checked
// independently.
func IsValidAmount(s string) bool {
	trimmed := strings.TrimSpace(s)
	if !amountRe.MatchString(trimmed) {
		return false
	}
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return false
	}
	return v >= MinAmount
}

// FormValid gates payment creation: both fields must pass before any network
// call is made.
func FormValid(email, amount string) bool {
	return IsValidEmail(email) && IsValidAmount(amount)
}

// Instruments the hosted widget can be restricted to. Matches the set the
// admin panel accepts for the shop-wide default.
var widgetMethods = map[string]struct{}{
	"bank_card": {},
	"sbp":       {},
	"yoo_money": {},
}

// IsValidMethod reports whether s names a known payment instrument. The field
// is optional; empty means the widget shows every method the shop supports.
func IsValidMethod(s string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	if trimmed == "" {
		return true
	}
	_, ok := widgetMethods[trimmed]
	return ok
}
