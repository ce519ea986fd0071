package billing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"maitred/internal/models"
	"maitred/internal/ordering"
)

// Mode is how a settlement is scoped
type Mode string

const (
	ModeFull    Mode = "full"
	ModePartial Mode = "partial"
	ModeSplit   Mode = "split"
)

// Scope selects what a settlement pays for
type Scope struct {
	Mode     Mode     `json:"mode"`
	ItemKeys []string `json:"item_keys,omitempty"`
	Guests   int      `json:"guests,omitempty"`
}

// Quote is the amount due for a scope
type Quote struct {
	Mode     Mode            `json:"mode"`
	Due      decimal.Decimal `json:"due"`
	ItemKeys []string        `json:"item_keys"`
	Guests   int             `json:"guests,omitempty"`
}

func unpaid(items []models.OrderItem) []models.OrderItem {
	var out []models.OrderItem
	for _, it := range items {
		if it.Billable() {
			out = append(out, it)
		}
	}
	return out
}

func sum(items []models.OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.SumPrice)
	}
	return total
}

func keys(items []models.OrderItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Key())
	}
	return out
}

// QuoteFull prices every unpaid line
func QuoteFull(st ordering.State) Quote {
	open := unpaid(st.Items)
	return Quote{Mode: ModeFull, Due: models.Round2(sum(open)), ItemKeys: keys(open)}
}

// QuotePartial prices the chosen unpaid lines. Keys that match no payable
// line are ignored; the quote fails only when none is left.
func QuotePartial(st ordering.State, itemKeys []string) (Quote, error) {
	if len(itemKeys) == 0 {
		return Quote{}, &ordering.ValidationError{Reason: "select at least one item"}
	}
	byKey := make(map[string]models.OrderItem, len(st.Items))
	for _, it := range st.Items {
		byKey[it.Key()] = it
	}

	var chosen []models.OrderItem
	seen := make(map[string]bool, len(itemKeys))
	for _, k := range itemKeys {
		if seen[k] {
			continue
		}
		seen[k] = true
		if it, ok := byKey[k]; ok && it.Billable() {
			chosen = append(chosen, it)
		}
	}
	if len(chosen) == 0 {
		return Quote{}, &ordering.ValidationError{Reason: "none of the selected items is payable"}
	}
	return Quote{Mode: ModePartial, Due: models.Round2(sum(chosen)), ItemKeys: keys(chosen)}, nil
}

// QuoteEqualSplit prices one guest's share of the unpaid lines
func QuoteEqualSplit(st ordering.State, guests int) Quote {
	if guests < 1 {
		guests = 1
	}
	open := unpaid(st.Items)
	share := sum(open).Div(decimal.NewFromInt(int64(guests)))
	return Quote{Mode: ModeSplit, Due: models.Round2(share), ItemKeys: keys(open), Guests: guests}
}

// QuoteFor dispatches on the scope mode
func QuoteFor(st ordering.State, scope Scope) (Quote, error) {
	switch scope.Mode {
	case ModeFull, "":
		return QuoteFull(st), nil
	case ModePartial:
		return QuotePartial(st, scope.ItemKeys)
	case ModeSplit:
		return QuoteEqualSplit(st, scope.Guests), nil
	}
	return Quote{}, &ordering.ValidationError{Reason: fmt.Sprintf("unknown payment mode %q", scope.Mode)}
}
