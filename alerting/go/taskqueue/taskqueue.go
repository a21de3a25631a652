// Package taskqueue defines the asynchronous task boundary between the
// subscription lifecycle manager and the workers that reconcile rows against
// the streaming backend. Delivery is at least once and ordered per
// subscription; handlers must tolerate replays.
package taskqueue

import (
	"context"

	"go.argus-mon.org/infra/alerting/go/types"
)

// Kind identifies the reconciliation a task performs.
type Kind string

const (
	CreateTask Kind = "create-subscription"
	UpdateTask Kind = "update-subscription"
	DeleteTask Kind = "delete-subscription"
)

// Task is one queued reconciliation for one subscription row.
type Task struct {
	Kind           Kind  `json:"kind"`
	SubscriptionID int64 `json:"subscription_id"`

	// Version is the row version at dispatch time. Handlers drop the task
	// when the row has moved on to a newer version.
	Version int64 `json:"version"`

	// OldType, OldDataset and OldAggregate are set on update tasks. The
	// worker needs the pre-update coordinates to tear the old backend
	// subscription down under the entity it was created with.
	OldType      types.QueryType `json:"old_type,omitempty"`
	OldDataset   types.Dataset   `json:"old_dataset,omitempty"`
	OldAggregate string          `json:"old_aggregate,omitempty"`
}

// Handler processes one task. Returning an error nacks the task for
// redelivery.
type Handler func(ctx context.Context, task *Task) error

// Queue dispatches tasks to workers.
type Queue interface {
	// Enqueue submits the task for asynchronous processing. Tasks for the
	// same subscription are delivered in submission order.
	Enqueue(ctx context.Context, task *Task) error
}
