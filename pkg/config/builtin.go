package config

// RoutingTable holds the lexical tables the supervisor router and the
// continuation detector work from: weighted classifier keywords, cacheable
// intent phrases, write-intent guards, continuation word sets, and the
// sentinel strings agents embed in responses to signal committed writes or
// escalation transitions.
//
// A built-in table ships with the binary; deployments may overlay sections
// from a routing.yaml file (see loader.go). List sections in the overlay
// replace the built-in list wholesale; keyword map entries merge per key,
// with overlay weights winning.
type RoutingTable struct {
	// Keywords maps category → keyword → weight for the keyword classifier.
	// Multi-word keywords are matched as substrings of the lowercased message.
	Keywords map[Category]map[string]int `yaml:"keywords"`

	// CacheableIntents maps intent name → trigger phrases for the router's
	// cache short-circuit. Intent names are fixed: balance, transactions,
	// limits, accounts.
	CacheableIntents map[string][]string `yaml:"cacheable_intents"`

	// WriteIntents are phrases that veto the cache short-circuit regardless
	// of cacheable-intent keyword overlap.
	WriteIntents []string `yaml:"write_intents"`

	// Affirmations and Negations drive the continuation detector.
	Affirmations []string `yaml:"affirmations"`
	Negations    []string `yaml:"negations"`

	// WriteSentinels mark agent response lines that indicate a committed
	// write; the dispatcher invalidates the customer's cache when one is seen.
	WriteSentinels []string `yaml:"write_sentinels"`

	// EscalationStartSentinels / EscalationResolveSentinels set and clear the
	// per-customer escalation pin.
	EscalationStartSentinels   []string `yaml:"escalation_start_sentinels"`
	EscalationResolveSentinels []string `yaml:"escalation_resolve_sentinels"`
}

// Cacheable intent names used as keys in RoutingTable.CacheableIntents.
const (
	IntentBalance      = "balance"
	IntentTransactions = "transactions"
	IntentLimits       = "limits"
	IntentAccounts     = "accounts"
)

// IntentCategory maps a cacheable intent to the category whose agent owns
// that data: the transaction agent owns the transaction listing, the account
// agent owns balance, account, and limit summaries. The cache short-circuit
// defers to that agent's may_use_cache flag.
func IntentCategory(intent string) Category {
	if intent == IntentTransactions {
		return CategoryTransaction
	}
	return CategoryAccount
}

// BuiltinRoutingTable returns the routing table compiled into the binary.
// Callers receive a fresh copy; mutating it does not affect later calls.
func BuiltinRoutingTable() *RoutingTable {
	return &RoutingTable{
		Keywords: map[Category]map[string]int{
			CategoryAccount: {
				"account":   1,
				"balance":   2,
				"statement": 2,
				"card":      1,
				"deposit":   1,
				"iban":      2,
				"branch":    1,
			},
			CategoryTransaction: {
				"transaction":  2,
				"transactions": 2,
				"history":      1,
				"spent":        1,
				"charge":       1,
				"refund":       2,
				"debit":        1,
				"credit":       1,
			},
			CategoryPayment: {
				"pay":         1,
				"payment":     2,
				"transfer":    2,
				"send money":  2,
				"wire":        2,
				"beneficiary": 2,
				"move money":  2,
			},
			CategoryProductInfo: {
				"product":       2,
				"interest rate": 2,
				"loan":          2,
				"mortgage":      2,
				"savings plan":  2,
				"fixed deposit": 2,
				"fee":           1,
				"offer":         1,
			},
			CategoryMoneyCoach: {
				"budget":         2,
				"saving":         1,
				"advice":         2,
				"spend less":     2,
				"financial goal": 2,
				"plan my":        1,
			},
			CategoryEscalation: {
				"complaint":      2,
				"human":          2,
				"representative": 2,
				"agent":          1,
				"fraud":          2,
				"dispute":        2,
				"ticket":         1,
			},
		},
		CacheableIntents: map[string][]string{
			IntentBalance:      {"balance", "how much", "available funds"},
			IntentTransactions: {"recent transactions", "last transactions", "latest transactions"},
			IntentLimits:       {"limit", "daily limit", "per-transaction limit"},
			IntentAccounts:     {"account details", "account info", "my account"},
		},
		WriteIntents: []string{
			"pay", "payment", "transfer", "send", "wire", "move money",
		},
		Affirmations: []string{
			"yes", "yeah", "yep", "ok", "okay", "confirm", "proceed",
			"go ahead", "approve", "do it", "sure",
		},
		Negations: []string{
			"no", "cancel", "stop", "abort", "nevermind",
		},
		WriteSentinels: []string{
			"TRANSFER COMPLETED",
			"TICKET CREATED",
			"PAYMENT EXECUTED",
		},
		EscalationStartSentinels: []string{
			"ESCALATION STARTED",
		},
		EscalationResolveSentinels: []string{
			"ESCALATION RESOLVED",
			"TICKET CREATED",
		},
	}
}
