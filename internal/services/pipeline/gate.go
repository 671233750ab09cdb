package pipeline

import (
	"strings"

	"github.com/NordCoder/Pagewatch/internal/domain/target"
	"github.com/shopspring/decimal"
)

// Allow evaluates rules in order against the lower-cased text. Each rule
// overwrites the previous verdict, so the last rule decides. No rules means
// notify.
func Allow(rules []target.Rule, text string) bool {
	lowered := strings.ToLower(text)
	allow := true
	for _, r := range rules {
		hit := strings.Contains(lowered, strings.ToLower(r.Value))
		switch r.Predicate {
		case target.Contains:
			allow = hit
		case target.NotContains:
			allow = !hit
		}
	}
	return allow
}

// WithinBounds reports whether price satisfies the configured min and max.
func WithinBounds(b target.PriceBounds, price decimal.Decimal) bool {
	if b.Min != nil && price.LessThan(*b.Min) {
		return false
	}
	if b.Max != nil && price.GreaterThan(*b.Max) {
		return false
	}
	return true
}
