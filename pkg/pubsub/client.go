// Package pubsub wraps the Pub/Sub v2 client with the loyalty topic and the
// external-state subscription.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/lealtad-backend/pkg/config"
	"github.com/angelmondragon/lealtad-backend/pkg/logger"
)

// Role selects which resources a binary must find before it starts.
type Role int

const (
	// RolePublisher needs the loyalty topic.
	RolePublisher Role = iota
	// RoleSubscriber needs the external-state subscription.
	RoleSubscriber
)

type resourceKind string

const (
	kindTopic        resourceKind = "topics"
	kindSubscription resourceKind = "subscriptions"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
	role      Role
}

// NewClient creates a Pub/Sub v2 client and checks the resources the role
// depends on.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, role Role, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}

	psClient, err := pubsub.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{client: psClient, projectID: projectID, cfg: cfg, role: role}
	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"project_id": projectID,
			"role":       role.String(),
		}), "pubsub client initialized")
	}
	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(gcp.CredentialsJSON))}
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(gcp.ApplicationCredentials)}
	default:
		return nil
	}
}

func (r Role) String() string {
	if r == RoleSubscriber {
		return "subscriber"
	}
	return "publisher"
}

// Ping checks that the resources for the client's role still exist.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	if c.role == RoleSubscriber {
		return c.checkSubscription(ctx, c.cfg.ExternalStateSubscription)
	}
	return c.checkTopic(ctx, c.cfg.LoyaltyTopic)
}

func (c *Client) checkTopic(ctx context.Context, name string) error {
	full := resourceName(c.projectID, kindTopic, name)
	if full == "" {
		return fmt.Errorf("topic %q not configured", name)
	}
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: full})
	return lookupErr("topic", name, err)
}

func (c *Client) checkSubscription(ctx context.Context, name string) error {
	full := resourceName(c.projectID, kindSubscription, name)
	if full == "" {
		return fmt.Errorf("subscription %q not configured", name)
	}
	_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: full})
	return lookupErr("subscription", name, err)
}

// lookupErr turns an admin lookup result into a startup error. v2 reports
// missing resources as gRPC NotFound.
func lookupErr(what, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %q does not exist", what, name)
	default:
		return fmt.Errorf("checking %s %q: %w", what, name, err)
	}
}

// Subscriber returns a handle for a subscription ID or full resource name.
func (c *Client) Subscriber(name string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	full := resourceName(c.projectID, kindSubscription, name)
	if full == "" {
		return nil
	}
	return c.client.Subscriber(full)
}

// ExternalStateSubscription returns the subscriber for state changes reported
// by collaborating systems.
func (c *Client) ExternalStateSubscription() *pubsub.Subscriber {
	return c.Subscriber(c.cfg.ExternalStateSubscription)
}

// Publisher returns a handle for a topic ID or full resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full := resourceName(c.projectID, kindTopic, name)
	if full == "" {
		return nil
	}
	return c.client.Publisher(full)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// resourceName expands a short ID to projects/<p>/<kind>/<id>. Names that are
// already fully qualified for the same kind pass through.
func resourceName(projectID string, kind resourceKind, name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+string(kind)+"/") {
		return n
	}
	p := strings.TrimSpace(projectID)
	if p == "" {
		return ""
	}
	return "projects/" + p + "/" + string(kind) + "/" + n
}
