// Package dashboard provides the embedded web UI for the preload server.
//
// The page lists the latest outcome per image URL, updated live over
// Server-Sent Events, and the most recent run summaries.
package dashboard

import "embed"

// Assets is an embedded filesystem containing the dashboard web UI.
//
//	assets/
//	  index.html    - Dashboard page with inline CSS and JavaScript
//
//go:embed assets/*
var Assets embed.FS
