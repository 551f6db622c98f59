// Package cache centralises the Redis key layout so sessions, locks and
// cached settings never collide across packages.
package cache

import "fmt"

const prefix = "amoria"

// PaymentSession is the key holding the active payment session for a provider.
func PaymentSession(provider string) string {
	return fmt.Sprintf("%s:payment:session:%s", prefix, provider)
}

// PaymentIndex maps a payment id back to its session for status lookups.
func PaymentIndex(paymentID string) string {
	return fmt.Sprintf("%s:payment:index:%s", prefix, paymentID)
}

// PaymentPhase holds the immutable final phase of a payment once resolved.
func PaymentPhase(paymentID string) string {
	return fmt.Sprintf("%s:payment:phase:%s", prefix, paymentID)
}

// PollLock guards concurrent polls for the same payment.
func PollLock(paymentID string) string {
	return fmt.Sprintf("%s:payment:poll:%s", prefix, paymentID)
}

// ProviderSettings caches the admin-configured provider settings row.
func ProviderSettings() string {
	return prefix + ":settings:providers"
}

// TelegramSettings caches the Telegram notification settings row.
func TelegramSettings() string {
	return prefix + ":settings:telegram"
}

// WebhookSeen marks a processed gateway webhook for replay protection.
func WebhookSeen(provider, eventID string) string {
	return fmt.Sprintf("%s:webhook:seen:%s:%s", prefix, provider, eventID)
}

// AdminSession stores a logged-in admin session keyed by the JWT ID.
func AdminSession(jti string) string {
	return fmt.Sprintf("%s:auth:session:%s", prefix, jti)
}

// Idempotency is the namespace for request idempotency keys.
func Idempotency(key string) string {
	return fmt.Sprintf("%s:idem:%s", prefix, key)
}

// RateLimitPrefix is the namespace for sliding-window rate limit buckets.
func RateLimitPrefix() string {
	return prefix + ":rl"
}
