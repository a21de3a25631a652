/*
	subscriberd is the worker that reconciles query subscription rows against
	the streaming analytics backend. It pulls lifecycle tasks from Pub/Sub,
	applies them idempotently and exposes prometheus metrics.
*/
package main

import (
	"context"
	"flag"
	"net/http"

	"cloud.google.com/go/pubsub"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.argus-mon.org/infra/alerting/go/entitysub"
	"go.argus-mon.org/infra/alerting/go/metricsindex/sqlindexstore"
	"go.argus-mon.org/infra/alerting/go/snuba"
	"go.argus-mon.org/infra/alerting/go/subscription/sqlsubscriptionstore"
	"go.argus-mon.org/infra/alerting/go/subscriptions"
	"go.argus-mon.org/infra/alerting/go/taskqueue/pubsubtaskqueue"
	"go.argus-mon.org/infra/go/sklog"
)

// flags
var (
	connectionString = flag.String("connection_string", "postgresql://root@localhost:26257/alerting?sslmode=disable", "Database connection string.")
	snubaURL         = flag.String("snuba_url", "http://localhost:1218", "Base URL of the streaming backend subscriptions API.")
	project          = flag.String("project", "", "GCP project hosting the task queue topic.")
	topic            = flag.String("topic", "alerting-subscription-tasks", "Pub/Sub topic for lifecycle tasks.")
	subName          = flag.String("subscription", "alerting-subscription-tasks-worker", "Pub/Sub subscription this worker pulls from.")
	promPort         = flag.String("prom_port", ":20000", "Metrics service address, e.g. ':20000'.")
)

func main() {
	flag.Parse()
	ctx := context.Background()

	db, err := pgxpool.Connect(ctx, *connectionString)
	if err != nil {
		sklog.Fatalf("Failed to connect to database: %s", err)
	}
	store, err := sqlsubscriptionstore.New(db)
	if err != nil {
		sklog.Fatalf("Failed to build subscription store: %s", err)
	}
	registry := entitysub.NewRegistry(sqlindexstore.New(db))

	psClient, err := pubsub.NewClient(ctx, *project)
	if err != nil {
		sklog.Fatalf("Failed to create Pub/Sub client: %s", err)
	}
	queue, err := pubsubtaskqueue.NewPublisher(ctx, psClient, *topic)
	if err != nil {
		sklog.Fatalf("Failed to create task publisher: %s", err)
	}

	manager := subscriptions.NewManager(store, queue, snuba.NewClient(*snubaURL, nil), registry)

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		sklog.Fatal(http.ListenAndServe(*promPort, nil))
	}()

	sklog.Infof("Pulling tasks from %s", *subName)
	if err := pubsubtaskqueue.Receive(ctx, psClient, *subName, manager.HandleTask); err != nil {
		sklog.Fatalf("Receive failed: %s", err)
	}
}
