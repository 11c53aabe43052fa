package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Client wraps the Pub/Sub v2 client with the order event topology: one
// fulfillment and one notification topic, each with a single subscription.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoSubscriptions   = errors.New("pubsub subscription name is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// NewClient connects and verifies that every configured subscription exists.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:     psClient,
		projectID:  gcp.ProjectID,
		cfg:        cfg,
		publishers: map[string]*pubsub.Publisher{},
	}

	if err := c.checkSubscriptions(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{
			"project_id":    gcp.ProjectID,
			"subscriptions": subscriptionNames(cfg),
		})
		logg.Info(ctx, "pubsub client initialized")
	}
	return c, nil
}

func (c *Client) checkSubscriptions(ctx context.Context) error {
	names := subscriptionNames(c.cfg)
	if len(names) == 0 {
		return errNoSubscriptions
	}
	for _, name := range names {
		full := resourceName(c.projectID, kindSubscription, name)
		_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: full})
		if err := classifyLookup("subscription", name, err); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) checkTopics(ctx context.Context) error {
	for _, name := range topicNames(c.cfg) {
		full := resourceName(c.projectID, kindTopic, name)
		_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: full})
		if err := classifyLookup("topic", name, err); err != nil {
			return err
		}
	}
	return nil
}

// classifyLookup turns a gRPC admin lookup error into a readable one.
func classifyLookup(kind, name string, err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s %q does not exist", kind, name)
	}
	return fmt.Errorf("checking %s %q: %w", kind, name, err)
}

// Subscription returns a subscriber for a subscription id or full resource name.
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	full := resourceName(c.projectID, kindSubscription, name)
	if full == "" {
		return nil
	}
	return c.client.Subscriber(full)
}

// FulfillmentSubscription feeds dispatch, settlement and refund jobs.
func (c *Client) FulfillmentSubscription() *pubsub.Subscriber {
	return c.Subscription(c.cfg.FulfillmentSubscription)
}

// NotificationSubscription feeds customer and admin notifications.
func (c *Client) NotificationSubscription() *pubsub.Subscriber {
	return c.Subscription(c.cfg.NotificationSubscription)
}

// Publisher returns the shared publisher for a topic. Message ordering is
// enabled so events for one aggregate are delivered in commit order when the
// caller sets an ordering key.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full := resourceName(c.projectID, kindTopic, name)
	if full == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.publishers[full]; ok {
		return p
	}
	p := c.client.Publisher(full)
	p.EnableMessageOrdering = true
	c.publishers[full] = p
	return p
}

// Ping checks that the configured subscriptions and topics exist.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	if err := c.checkSubscriptions(ctx); err != nil {
		return err
	}
	return c.checkTopics(ctx)
}

// Close flushes cached publishers and releases the client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for name, p := range c.publishers {
		p.Stop()
		delete(c.publishers, name)
	}
	c.mu.Unlock()
	return c.client.Close()
}
