// Package store provides the CSRF token stores: Redis for deployments with
// more than one gateway instance and an in-process LRU for single instances
// and development.
package store
