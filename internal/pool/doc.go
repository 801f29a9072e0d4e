// Package pool models the fleet of scrape agents behind the gateway.
//
// A pool specification such as "http://agent|replicas=3" is expanded once at
// startup into an immutable, ordered Registry. Every selection re-probes each
// agent's /is-busy endpoint and picks one idle agent at random; nothing is
// cached and nothing is reserved, so two concurrent callers may pick the same
// agent.
package pool
