// Package panel serves the bridge status page as an embedded asset.
//
// The page is plain HTML and JavaScript embedded with go:embed. It renders
// the tracked devices from GET /api/v1/devices and refreshes whenever the
// WebSocket feed reports a published device or a completed pass.
//
// Unknown paths fall back to index.html so the page can be bookmarked at
// any sub-path. Assets are served with no-cache headers.
package panel
