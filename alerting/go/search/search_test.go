package search

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseQuery_KeyValueTerms(t *testing.T) {
	filters, err := ParseQuery("level:error release:canary", nil)
	require.NoError(t, err)
	require.Equal(t, []Filter{
		{Key: "level", Op: OpEqual, Value: "error"},
		{Key: "release", Op: OpEqual, Value: "canary"},
	}, filters)
}

func TestParseQuery_Negation(t *testing.T) {
	filters, err := ParseQuery("!environment:production", nil)
	require.NoError(t, err)
	require.Equal(t, []Filter{
		{Key: "environment", Op: OpNotEqual, Value: "production"},
	}, filters)
}

func TestParseQuery_BareWordMatchesMessage(t *testing.T) {
	filters, err := ParseQuery("timeout", nil)
	require.NoError(t, err)
	require.Equal(t, []Filter{
		{Key: MessageKey, Op: OpEqual, Value: "timeout"},
	}, filters)
}

func TestParseQuery_QuotedValueKeepsSpaces(t *testing.T) {
	filters, err := ParseQuery(`message:"connection timed out"`, nil)
	require.NoError(t, err)
	require.Equal(t, []Filter{
		{Key: MessageKey, Op: OpEqual, Value: "connection timed out"},
	}, filters)
}

func TestParseQuery_EmptyQuery(t *testing.T) {
	filters, err := ParseQuery("", nil)
	require.NoError(t, err)
	require.Empty(t, filters)
}

func TestParseQuery_ReservedKeyFails(t *testing.T) {
	_, err := ParseQuery("timestamp:-24h", nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidSearchQuery))
	require.Contains(t, err.Error(), "Invalid key for this search: timestamp")
}

func TestParseQuery_BlockedKeyFails(t *testing.T) {
	_, err := ParseQuery("session.status:crashed", map[string]bool{"session.status": true})
	require.True(t, errors.Is(err, ErrInvalidSearchQuery))
}
