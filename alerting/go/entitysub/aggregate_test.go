package entitysub

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAggregate(t *testing.T) {
	test := func(name, aggregate, function string, args []string, alias string) {
		t.Run(name, func(t *testing.T) {
			agg, err := ParseAggregate(aggregate)
			require.NoError(t, err)
			require.Equal(t, function, agg.Function)
			require.Equal(t, args, agg.Args)
			require.Equal(t, alias, agg.Alias)
		})
	}
	test("count", "count()", "count", nil, "")
	test("count_unique", "count_unique(user)", "count_unique", []string{"user"}, "")
	test("percentile", "percentile(transaction.duration,.95)", "percentile", []string{"transaction.duration", ".95"}, "")
	test("percentile shorthand", "p95(transaction.duration)", "percentile", []string{"transaction.duration", ".95"}, "")
	test("explicit alias", "percentage(sessions_crashed, sessions) AS _crash_rate_alert_aggregate",
		"percentage", []string{"sessions_crashed", "sessions"}, "_crash_rate_alert_aggregate")
}

func TestParseAggregate_Invalid(t *testing.T) {
	for _, aggregate := range []string{"", "count", "count(", "count() AS", "no spaces()allowed extra"} {
		_, err := ParseAggregate(aggregate)
		require.Error(t, err, "aggregate: %q", aggregate)
	}
}

func TestAliasOrDerived(t *testing.T) {
	test := func(aggregate, expected string) {
		agg, err := ParseAggregate(aggregate)
		require.NoError(t, err)
		require.Equal(t, expected, agg.AliasOrDerived())
	}
	test("count()", "count")
	test("count_unique(user)", "count_unique_user")
	test("percentile(transaction.duration,.95)", "percentile_transaction_duration__95")
	test("count() AS total", "total")
}

func TestPercentile(t *testing.T) {
	agg, err := ParseAggregate("percentile(transaction.duration,.95)")
	require.NoError(t, err)
	col, p, err := agg.Percentile()
	require.NoError(t, err)
	require.Equal(t, "transaction.duration", col)
	require.Equal(t, 0.95, p)

	agg, err = ParseAggregate("percentile(transaction.duration,1.5)")
	require.NoError(t, err)
	_, _, err = agg.Percentile()
	require.Error(t, err)
}

func TestCrashRateColumn(t *testing.T) {
	agg, err := ParseAggregate("percentage(sessions_crashed, sessions) AS _crash_rate_alert_aggregate")
	require.NoError(t, err)
	col, err := agg.CrashRateColumn()
	require.NoError(t, err)
	require.Equal(t, "sessions", col)

	agg, err = ParseAggregate("percentage(users_crashed, users) AS _crash_rate_alert_aggregate")
	require.NoError(t, err)
	col, err = agg.CrashRateColumn()
	require.NoError(t, err)
	require.Equal(t, "users", col)

	for _, aggregate := range []string{
		"count(sessions)",
		"percentage(sessions, sessions_crashed)",
		"percentage(users_crashed, sessions)",
	} {
		agg, err := ParseAggregate(aggregate)
		require.NoError(t, err)
		_, err = agg.CrashRateColumn()
		require.Error(t, err, "aggregate: %q", aggregate)
	}
}
