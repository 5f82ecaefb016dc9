// Package server provides the HTTP server for the preload dashboard and API.
//
// This package is internal to imgpreload and handles all HTTP concerns:
//
//   - Dashboard serving: Serves the embedded HTML dashboard at "/"
//   - REST API: "/api/outcomes" and "/api/runs" snapshots as JSON
//   - Server-Sent Events: Live outcomes at "/api/sse"
//   - Preload requests: "/api/preload" queues more URLs
//   - Link hints: "/hints" renders preload markup for a page
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
//
// Users of the imgpreload library should not need to interact with this
// package directly. The server is started by [imgpreload.Preloader.Serve].
package server
