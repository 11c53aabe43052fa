package pubsub

import (
	"fmt"
	"strings"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
)

// resourceKind is the collection segment of a Pub/Sub resource name.
type resourceKind string

const (
	kindTopic        resourceKind = "topics"
	kindSubscription resourceKind = "subscriptions"
)

// resourceName expands a short id into projects/<project>/<kind>/<id>. Full
// names for the same kind pass through untouched.
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
	return fmt.Sprintf("projects/%s/%s/%s", p, kind, n)
}

func subscriptionNames(cfg config.PubSubConfig) []string {
	return nonBlank(cfg.FulfillmentSubscription, cfg.NotificationSubscription)
}

func topicNames(cfg config.PubSubConfig) []string {
	return nonBlank(cfg.FulfillmentTopic, cfg.NotificationTopic)
}

func nonBlank(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
