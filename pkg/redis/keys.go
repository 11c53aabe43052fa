package redis

import "strings"

// Every key lives under "of:" so the service can share a Redis database.
const (
	keyNamespace      = "of"
	idempotencyPrefix = "idempotency"
	lockPrefix        = "lock"
	tokenPrefix       = "provider_token"
)

// IdempotencyKey namespaces dedupe markers, e.g. of:idempotency:cj-webhook:<messageId>.
func (c *Client) IdempotencyKey(scope, id string) string {
	return joinKey(idempotencyPrefix, scope, id)
}

// LockKey namespaces distributed locks such as the cron leader lock.
func (c *Client) LockKey(name string) string {
	return joinKey(lockPrefix, name)
}

// ProviderTokenKey is where a provider's access token is cached.
func (c *Client) ProviderTokenKey(provider string) string {
	return joinKey(tokenPrefix, strings.ToLower(provider))
}

func joinKey(parts ...string) string {
	clean := make([]string, 0, len(parts)+1)
	clean = append(clean, keyNamespace)
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			clean = append(clean, p)
		}
	}
	return strings.Join(clean, ":")
}
