package models

import "time"

// ResourceKind is the closed set of resource classes the lifecycle manager tracks.
type ResourceKind string

const (
	ResourceBrowser           ResourceKind = "browser"
	ResourceBrowserContext    ResourceKind = "browser_context"
	ResourcePlaywright        ResourceKind = "playwright"
	ResourceHTTPSession       ResourceKind = "http_session"
	ResourceModelSession      ResourceKind = "model_session"
	ResourceProxyController   ResourceKind = "proxy_controller"
)

// Resource is a task-scoped handle the lifecycle manager guarantees to release.
type Resource struct {
	ResourceID string
	Kind       ResourceKind
	TaskID     string
	CreatedAt  time.Time
	LastUsedAt time.Time
}
