// Package pool provides the bounded worker pool behind imgpreload runs.
//
// A fixed number of workers drain a shared queue of request indexes, so a
// slot freed by one settled fetch is refilled from the head of the queue
// immediately. Users of the imgpreload library should not need to interact
// with this package directly.
package pool
