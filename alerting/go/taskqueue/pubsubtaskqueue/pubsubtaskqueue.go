// Package pubsubtaskqueue implements the task queue on Cloud Pub/Sub.
// Ordering keys scope delivery order to one subscription row, so create,
// update and delete tasks for the same row never race each other across
// workers.
package pubsubtaskqueue

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"cloud.google.com/go/pubsub"

	"go.argus-mon.org/infra/alerting/go/taskqueue"
	"go.argus-mon.org/infra/go/metrics2"
	"go.argus-mon.org/infra/go/skerr"
	"go.argus-mon.org/infra/go/sklog"
)

// kindAttribute carries the task kind as a message attribute so consumers
// can filter without decoding the payload.
const kindAttribute = "kind"

// Publisher implements taskqueue.Queue by publishing JSON encoded tasks to a
// Pub/Sub topic.
type Publisher struct {
	topic  *pubsub.Topic
	queued sync.WaitGroup

	publishFailed metrics2.Counter
}

// NewPublisher returns a Publisher on the given topic, creating the topic if
// it does not exist. Message ordering is enabled on the topic handle since
// every message carries an ordering key.
func NewPublisher(ctx context.Context, client *pubsub.Client, topicName string) (*Publisher, error) {
	topic := client.Topic(topicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, skerr.Wrapf(err, "failed to check existence of topic %q", topicName)
	}
	if !exists {
		if topic, err = client.CreateTopic(ctx, topicName); err != nil {
			return nil, skerr.Wrapf(err, "failed to create topic %q", topicName)
		}
	}
	topic.EnableMessageOrdering = true
	return &Publisher{
		topic:         topic,
		publishFailed: metrics2.GetCounter("alerting_taskqueue_publish_failed", map[string]string{"topic": topicName}),
	}, nil
}

// orderingKey scopes message ordering to one subscription row.
func orderingKey(task *taskqueue.Task) string {
	return strconv.FormatInt(task.SubscriptionID, 10)
}

// Enqueue implements taskqueue.Queue. The publish is asynchronous; failures
// are counted and logged, and the ordering key is resumed so later tasks for
// the row are not wedged behind the failure.
func (p *Publisher) Enqueue(ctx context.Context, task *taskqueue.Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return skerr.Wrap(err)
	}
	key := orderingKey(task)
	res := p.topic.Publish(ctx, &pubsub.Message{
		Data:        body,
		OrderingKey: key,
		Attributes:  map[string]string{kindAttribute: string(task.Kind)},
	})
	p.queued.Add(1)
	go func() {
		defer p.queued.Done()
		if _, err := res.Get(ctx); err != nil {
			p.publishFailed.Inc(1)
			p.topic.ResumePublish(key)
			sklog.Errorf("Failed to publish %s task for subscription %d: %s", task.Kind, task.SubscriptionID, err)
		}
	}()
	return nil
}

// Wait blocks until all asynchronously published tasks have been sent.
func (p *Publisher) Wait() {
	p.queued.Wait()
}

// Receive pulls tasks from the given Pub/Sub subscription and delivers each
// to handler, acking on success and nacking on failure. It blocks until ctx
// is cancelled. The subscription must have message ordering enabled.
func Receive(ctx context.Context, client *pubsub.Client, subName string, handler taskqueue.Handler) error {
	sub := client.Subscription(subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return skerr.Wrapf(err, "failed to check existence of subscription %q", subName)
	}
	if !exists {
		return skerr.Fmt("subscription %q does not exist", subName)
	}
	handledFailed := metrics2.GetCounter("alerting_taskqueue_handle_failed", map[string]string{"subscription": subName})
	return skerr.Wrap(sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		var task taskqueue.Task
		if err := json.Unmarshal(msg.Data, &task); err != nil {
			// A malformed task will never decode; redelivery cannot help.
			sklog.Errorf("Dropping undecodable task message %s: %s", msg.ID, err)
			msg.Ack()
			return
		}
		if err := handler(ctx, &task); err != nil {
			handledFailed.Inc(1)
			sklog.Errorf("Task %s for subscription %d failed, nacking: %s", task.Kind, task.SubscriptionID, err)
			msg.Nack()
			return
		}
		msg.Ack()
	}))
}

var _ taskqueue.Queue = (*Publisher)(nil)
