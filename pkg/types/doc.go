// Package types defines the entities shared by the host and its workers:
// tasks, task results, task status and the distribution strategy.
package types
