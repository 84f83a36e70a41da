package config

// Category classifies a user intent onto a specialist agent. The set is
// closed: routing code switches over these constants and CategoryUnknown is
// the explicit sentinel for "classifier could not decide".
type Category string

const (
	CategoryAccount     Category = "account"
	CategoryTransaction Category = "transaction"
	CategoryPayment     Category = "payment"
	CategoryProductInfo Category = "product-info"
	CategoryMoneyCoach  Category = "money-coach"
	CategoryEscalation  Category = "escalation"
	CategoryUnknown     Category = "unknown"
)

// Categories returns the closed set of routable categories, in a stable
// order. CategoryUnknown is deliberately excluded: it is never routable.
func Categories() []Category {
	return []Category{
		CategoryAccount,
		CategoryTransaction,
		CategoryPayment,
		CategoryProductInfo,
		CategoryMoneyCoach,
		CategoryEscalation,
	}
}

// ParseCategory maps a string label onto a routable category.
// Returns CategoryUnknown, false for anything outside the closed set.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories() {
		if string(c) == s {
			return c, true
		}
	}
	return CategoryUnknown, false
}
