package entitysub

import (
	"regexp"
	"strconv"
	"strings"

	"go.argus-mon.org/infra/go/skerr"
)

// Aggregate is a parsed user aggregate expression, e.g.
// `count_unique(user)` or `percentage(sessions_crashed, sessions) AS
// _crash_rate_alert_aggregate`.
type Aggregate struct {
	Function string
	Args     []string

	// Alias is the explicit `AS alias` suffix, empty when absent.
	Alias string
}

// aggregateRe matches `function(args) [AS alias]`.
var aggregateRe = regexp.MustCompile(`^\s*([a-zA-Z0-9_]+)\((.*)\)\s*(?:(?i:AS)\s+([a-zA-Z0-9_]+)\s*)?$`)

// percentileShorthandRe matches the pNN percentile shorthands, e.g. p95.
var percentileShorthandRe = regexp.MustCompile(`^p(\d{2})$`)

// nonAliasChar replaces anything not allowed in a derived alias.
var nonAliasChar = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// ParseAggregate parses a user aggregate expression. The pNN shorthands are
// normalized to percentile, e.g. `p95(transaction.duration)` parses the same
// as `percentile(transaction.duration,.95)`.
func ParseAggregate(aggregate string) (*Aggregate, error) {
	m := aggregateRe.FindStringSubmatch(aggregate)
	if m == nil {
		return nil, skerr.Fmt("unparseable aggregate %q", aggregate)
	}
	ret := &Aggregate{
		Function: m[1],
		Alias:    m[3],
	}
	if m[2] != "" {
		for _, arg := range strings.Split(m[2], ",") {
			ret.Args = append(ret.Args, strings.TrimSpace(arg))
		}
	}
	if shorthand := percentileShorthandRe.FindStringSubmatch(ret.Function); shorthand != nil {
		ret.Function = "percentile"
		ret.Args = append(ret.Args, "."+shorthand[1])
	}
	return ret, nil
}

// AliasOrDerived returns the explicit alias, or derives one from the
// function and its arguments, e.g. `percentile(transaction.duration,.95)` →
// `percentile_transaction_duration__95`.
func (a *Aggregate) AliasOrDerived() string {
	if a.Alias != "" {
		return a.Alias
	}
	parts := []string{a.Function}
	for _, arg := range a.Args {
		parts = append(parts, nonAliasChar.ReplaceAllLiteralString(arg, "_"))
	}
	return strings.Join(parts, "_")
}

// Percentile returns the percentile this aggregate computes, e.g. 0.95, and
// the column it is computed over. Only valid when Function is "percentile".
func (a *Aggregate) Percentile() (string, float64, error) {
	if a.Function != "percentile" || len(a.Args) != 2 {
		return "", 0, skerr.Fmt("aggregate %q is not a percentile", a.Function)
	}
	p, err := strconv.ParseFloat(a.Args[1], 64)
	if err != nil {
		return "", 0, skerr.Wrapf(err, "invalid percentile %q", a.Args[1])
	}
	if p <= 0 || p >= 1 {
		return "", 0, skerr.Fmt("percentile %v out of range", p)
	}
	return a.Args[0], p, nil
}

// crashRateColumns are the column pairs the canonical crash rate aggregate
// may reference, keyed by the denominator column.
var crashRateColumns = map[string]string{
	"sessions": "sessions_crashed",
	"users":    "users_crashed",
}

// CrashRateColumn validates that this aggregate is the canonical crash rate
// expression `percentage(<col>_crashed, <col>)` and returns the denominator
// column, either "sessions" or "users".
func (a *Aggregate) CrashRateColumn() (string, error) {
	if a.Function != "percentage" || len(a.Args) != 2 {
		return "", skerr.Fmt("aggregate %q is not a crash rate expression", a.Function)
	}
	crashed, ok := crashRateColumns[a.Args[1]]
	if !ok || a.Args[0] != crashed {
		return "", skerr.Fmt("unsupported crash rate columns %v", a.Args)
	}
	return a.Args[1], nil
}

// formatPercentile renders a percentile for embedding in a backend function
// name, e.g. 0.95 → "0.95".
func formatPercentile(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
