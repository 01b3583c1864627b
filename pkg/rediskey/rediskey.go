package rediskey

import "fmt"

// Reward pipeline keys (global convention across the API and worker processes)
const (
	RewardRequestPrefix = "reward:req"
	RateLimitPrefix     = "ratelimit"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildRewardRequestKey returns "reward:req:{idempotencyKey}"
func BuildRewardRequestKey(idempotencyKey string) string {
	return NamespaceKey(RewardRequestPrefix, idempotencyKey)
}

// BuildRateLimitKey returns "ratelimit:{route}:{subject}"
func BuildRateLimitKey(route, subject string) string {
	return NamespaceKey(RateLimitPrefix, fmt.Sprintf("%s:%s", route, subject))
}
