// Package types holds the enumerations shared by the alert query
// subscription engine: query types, datasets, physical entities, event types
// and subscription statuses.
package types

import (
	"go.argus-mon.org/infra/go/skerr"
)

// QueryType describes the broad category of a monitoring query.
type QueryType string

const (
	ErrorQuery       QueryType = "error"
	PerformanceQuery QueryType = "performance"
	CrashRateQuery   QueryType = "crash_rate"
)

// AllQueryTypes is every valid QueryType.
var AllQueryTypes = []QueryType{ErrorQuery, PerformanceQuery, CrashRateQuery}

// Validate returns an error if the QueryType is unknown.
func (q QueryType) Validate() error {
	for _, known := range AllQueryTypes {
		if q == known {
			return nil
		}
	}
	return skerr.Fmt("unknown query type %q", string(q))
}

// Dataset is a logical dataset a query is written against. It is the user
// facing grouping; the physical storage is an EntityKey.
type Dataset string

const (
	EventsDataset             Dataset = "events"
	TransactionsDataset       Dataset = "transactions"
	MetricsDataset            Dataset = "metrics"
	PerformanceMetricsDataset Dataset = "generic_metrics"
	SessionsDataset           Dataset = "sessions"
)

// AllDatasets is every valid Dataset.
var AllDatasets = []Dataset{
	EventsDataset,
	TransactionsDataset,
	MetricsDataset,
	PerformanceMetricsDataset,
	SessionsDataset,
}

// Validate returns an error if the Dataset is unknown.
func (d Dataset) Validate() error {
	for _, known := range AllDatasets {
		if d == known {
			return nil
		}
	}
	return skerr.Fmt("unknown dataset %q", string(d))
}

// EntityKey names a physical table-like grouping in the streaming analytics
// backend. One Dataset can resolve to several EntityKeys depending on the
// aggregate being computed.
type EntityKey string

const (
	EventsEntity                      EntityKey = "events"
	TransactionsEntity                EntityKey = "transactions"
	GenericMetricsDistributionsEntity EntityKey = "generic_metrics_distributions"
	GenericMetricsSetsEntity          EntityKey = "generic_metrics_sets"
	MetricsCountersEntity             EntityKey = "metrics_counters"
	MetricsSetsEntity                 EntityKey = "metrics_sets"
	SessionsEntity                    EntityKey = "sessions"
)

// EventType categorizes the kinds of events an error style query matches.
type EventType string

const (
	ErrorEvent       EventType = "error"
	DefaultEvent     EventType = "default"
	TransactionEvent EventType = "transaction"
)

// Status is the lifecycle state of a query subscription.
type Status int

const (
	StatusActive Status = iota
	StatusCreating
	StatusUpdating
	StatusDeleting
	StatusDisabled
)

// String returns a human readable name for the Status.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCreating:
		return "creating"
	case StatusUpdating:
		return "updating"
	case StatusDeleting:
		return "deleting"
	case StatusDisabled:
		return "disabled"
	}
	return "unknown"
}

// Metric resource identifiers for the release health metrics, used when
// resolving session/user metrics through the string interning service.
const (
	SessionMetric = "c:sessions/session@none"
	UserMetric    = "s:sessions/user@none"
)

// UseCase scopes string interning lookups; release health and performance
// metrics are indexed independently.
type UseCase string

const (
	ReleaseHealthUseCase UseCase = "release_health"
	PerformanceUseCase   UseCase = "performance"
)
