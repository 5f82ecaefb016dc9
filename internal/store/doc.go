// Package store keeps preload outcomes and run summaries in memory.
//
// This package is internal to imgpreload and backs the HTTP API served by
// imgpreload.Preloader.Serve. Nothing is persisted across restarts.
//
// The main components are:
//
//   - [Store]: Interface defining storage and subscription operations
//   - [MemoryStore]: In-memory implementation of Store with pub/sub
//   - [OutcomeRecord], [RunRecord]: JSON representations of outcomes and runs
//
// Subscribers receive updates via channels with non-blocking sends (slow
// subscribers miss updates rather than block preloading).
package store
