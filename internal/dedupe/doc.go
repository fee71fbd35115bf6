// Package dedupe makes retried requests idempotent. A caller claims an
// idempotency key before doing the work and completes it with the result;
// a retry within the TTL gets the stored result instead of repeating the work.
package dedupe
