// Package worker implements the worker side of kambo-hive: a client that
// keeps asking the host for tasks, runs them and reports results, and that
// reconnects forever when the host goes away.
package worker
