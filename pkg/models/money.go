package models

import (
	"fmt"
	"strings"
)

// Money is an amount in a single currency. Amounts are carried as float64
// because the orchestrator only renders them; ledger arithmetic is owned by
// the downstream data services.
type Money struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// String renders the amount with thousands separators and two decimals,
// e.g. "113,400.00 THB".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", groupDigits(m.Amount), m.Currency)
}

func groupDigits(amount float64) string {
	s := fmt.Sprintf("%.2f", amount)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	dot := strings.IndexByte(s, '.')
	intPart, fracPart := s[:dot], s[dot:]

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, d := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	b.WriteString(fracPart)
	return b.String()
}
