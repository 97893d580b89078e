/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package lrucache provides a generic in-memory LRU cache with Prometheus metrics.
// The dispatcher keeps per-key rate limiter state in it, so the number of tracked keys stays bounded.
package lrucache
