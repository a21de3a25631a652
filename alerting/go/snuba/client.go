package snuba

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"go.argus-mon.org/infra/alerting/go/types"
	"go.argus-mon.org/infra/go/metrics2"
	"go.argus-mon.org/infra/go/skerr"
	"go.argus-mon.org/infra/go/sklog"
)

// Client manages standing query subscriptions in the streaming analytics
// backend. Create and Update return the opaque identifier the backend
// assigned to the subscription; Update always results in a new identifier.
type Client interface {
	CreateSubscription(ctx context.Context, req *SubscriptionRequest) (string, error)

	// UpdateSubscription replaces the subscription identified by
	// subscriptionID under oldEntity with a new subscription built from req.
	// The old identifier is never reused.
	UpdateSubscription(ctx context.Context, oldEntity types.EntityKey, subscriptionID string, req *SubscriptionRequest) (string, error)

	DeleteSubscription(ctx context.Context, entity types.EntityKey, subscriptionID string) error
}

const (
	// requestTimeout bounds a single HTTP round trip; retries are on top.
	requestTimeout = 10 * time.Second

	maxRetryInterval = 5 * time.Second
	maxElapsedTime   = 30 * time.Second
)

// httpClient implements Client against the backend's subscriptions HTTP API.
type httpClient struct {
	baseURL      string
	client       *http.Client
	createFailed metrics2.Counter
	deleteFailed metrics2.Counter
}

// NewClient returns a Client that talks to the backend at baseURL, e.g.
// "http://snuba:1218".
func NewClient(baseURL string, client *http.Client) Client {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	return &httpClient{
		baseURL:      baseURL,
		client:       client,
		createFailed: metrics2.GetCounter("snuba_subscription_create_failed"),
		deleteFailed: metrics2.GetCounter("snuba_subscription_delete_failed"),
	}
}

// subscriptionResponse is the body returned by the backend on create.
type subscriptionResponse struct {
	SubscriptionID string `json:"subscription_id"`
}

func (c *httpClient) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = maxRetryInterval
	b.MaxElapsedTime = maxElapsedTime
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

// CreateSubscription implements Client.
func (c *httpClient) CreateSubscription(ctx context.Context, req *SubscriptionRequest) (string, error) {
	if err := req.Request.Validate(); err != nil {
		return "", skerr.Wrap(err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", skerr.Wrapf(err, "serializing subscription request")
	}
	url := fmt.Sprintf("%s/%s/subscriptions", c.baseURL, req.Request.Entity)
	var resp subscriptionResponse
	err = c.retry(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpResp, err := c.client.Do(httpReq)
		if err != nil {
			return err
		}
		defer func() {
			_, _ = io.Copy(io.Discard, httpResp.Body)
			_ = httpResp.Body.Close()
		}()
		if httpResp.StatusCode != http.StatusAccepted && httpResp.StatusCode != http.StatusOK {
			return skerr.Fmt("received status %d from subscription create", httpResp.StatusCode)
		}
		return json.NewDecoder(httpResp.Body).Decode(&resp)
	})
	if err != nil {
		c.createFailed.Inc(1)
		return "", skerr.Wrapf(err, "creating subscription for entity %q", req.Request.Entity)
	}
	sklog.Infof("Created subscription %s for entity %s", resp.SubscriptionID, req.Request.Entity)
	return resp.SubscriptionID, nil
}

// UpdateSubscription implements Client. The backend has no in place update,
// so the old subscription is deleted and a new one created.
func (c *httpClient) UpdateSubscription(ctx context.Context, oldEntity types.EntityKey, subscriptionID string, req *SubscriptionRequest) (string, error) {
	if err := c.DeleteSubscription(ctx, oldEntity, subscriptionID); err != nil {
		return "", skerr.Wrap(err)
	}
	return c.CreateSubscription(ctx, req)
}

// DeleteSubscription implements Client.
func (c *httpClient) DeleteSubscription(ctx context.Context, entity types.EntityKey, subscriptionID string) error {
	url := fmt.Sprintf("%s/%s/subscriptions/%s", c.baseURL, entity, subscriptionID)
	err := c.retry(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		httpResp, err := c.client.Do(httpReq)
		if err != nil {
			return err
		}
		defer func() {
			_, _ = io.Copy(io.Discard, httpResp.Body)
			_ = httpResp.Body.Close()
		}()
		// A 404 means the subscription is already gone, which is fine since
		// deletes can be retried by the task queue.
		if httpResp.StatusCode != http.StatusAccepted && httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusNotFound {
			return skerr.Fmt("received status %d from subscription delete", httpResp.StatusCode)
		}
		return nil
	})
	if err != nil {
		c.deleteFailed.Inc(1)
		return skerr.Wrapf(err, "deleting subscription %q from entity %q", subscriptionID, entity)
	}
	return nil
}

var _ Client = (*httpClient)(nil)
