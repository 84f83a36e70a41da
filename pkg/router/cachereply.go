package router

import (
	"fmt"
	"strings"

	"github.com/convobank/orchestrator/pkg/config"
	"github.com/convobank/orchestrator/pkg/models"
)

// matchCacheableIntent returns the cacheable intent the message triggers, if
// any. Write-intent phrases veto the match outright: a message like
// "transfer my balance" must reach the payment agent, never the cache.
func matchCacheableIntent(table *config.RoutingTable, message string) (string, bool) {
	normalized := strings.ToLower(message)

	for _, phrase := range table.WriteIntents {
		if strings.Contains(normalized, phrase) {
			return "", false
		}
	}

	// Check in fixed precedence so "recent transactions on my account"
	// renders transactions, not account details.
	for _, intent := range []string{
		config.IntentTransactions,
		config.IntentLimits,
		config.IntentBalance,
		config.IntentAccounts,
	} {
		for _, phrase := range table.CacheableIntents[intent] {
			if strings.Contains(normalized, phrase) {
				return intent, true
			}
		}
	}
	return "", false
}

// renderCacheReply composes the response text for a cacheable intent from a
// valid bundle. Only the transactions reply carries an HTML table, so a
// cache-served response never holds more than one.
func renderCacheReply(intent string, bundle *models.CacheBundle) string {
	switch intent {
	case config.IntentBalance:
		return renderBalance(bundle)
	case config.IntentTransactions:
		return renderTransactions(bundle)
	case config.IntentLimits:
		return renderLimits(bundle)
	case config.IntentAccounts:
		return renderAccounts(bundle)
	default:
		return ""
	}
}

func renderBalance(bundle *models.CacheBundle) string {
	return fmt.Sprintf("Your current available balance is %s.",
		bundle.Data.PrimaryBalance)
}

func renderAccounts(bundle *models.CacheBundle) string {
	var b strings.Builder
	b.WriteString("Here are your accounts:\n")
	for i, acct := range bundle.Data.Accounts {
		label := "Account"
		if i == 0 {
			label = "Primary account"
		}
		fmt.Fprintf(&b, "- %s %s (%s): %s\n",
			label, acct.Number, acct.HolderName, acct.Balance)
	}
	return b.String()
}

func renderTransactions(bundle *models.CacheBundle) string {
	txns := bundle.Data.LastNTransactions
	if len(txns) == 0 {
		return "I don't see any recent transactions on your primary account."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Here are your last %d transactions:\n", len(txns))
	b.WriteString("<table>\n<tr><th>Date</th><th>Description</th><th>Amount</th></tr>\n")
	for _, t := range txns {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s</td></tr>\n",
			t.PostedAt.Format("2006-01-02"), t.Description, t.Amount)
	}
	b.WriteString("</table>")
	return b.String()
}

func renderLimits(bundle *models.CacheBundle) string {
	limits := bundle.Data.Limits
	return fmt.Sprintf(
		"Your transfer limits: %s per transaction, %s daily. You have %s remaining today.",
		limits.PerTransaction, limits.Daily, limits.RemainingToday)
}
