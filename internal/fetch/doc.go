// Package fetch provides the HTTP transport used to preload images.
//
// This package is internal to imgpreload. It downloads image bodies so they
// are warm in every cache between the origin and the client, and supports
// credentialed and anonymous requests over one pooled transport.
//
// The main components are:
//
//   - [Client]: HTTP client wrapper with credential modes and a size cap
//   - [HostLimiter]: per-host token-bucket rate limiting
//   - [Response]: result of a single image request
//
// Users of the imgpreload library should not need to interact with this
// package directly. The default fetcher of imgpreload.Preloader wraps it.
package fetch
