// Package analytics collects lightweight in-process usage counters for the
// portfolio: page views, project views, contact submissions and errors.
// Recording is a few atomic adds, cheap enough to sit on the request path.
package analytics

import "sync/atomic"

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	PageViews          int64 `json:"pageViews"`
	ProjectViews       int64 `json:"projectViews"`
	ContactSubmissions int64 `json:"contactSubmissions"`
	Errors             int64 `json:"errors"`
}

// Collector accumulates counters. The zero value is ready to use and safe
// for concurrent recording.
type Collector struct {
	pageViews          atomic.Int64
	projectViews       atomic.Int64
	contactSubmissions atomic.Int64
	errors             atomic.Int64
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// PageView records one page view.
func (c *Collector) PageView() {
	c.pageViews.Add(1)
}

// ProjectView records one project detail view.
func (c *Collector) ProjectView() {
	c.projectViews.Add(1)
}

// ContactSubmission records one accepted contact submission.
func (c *Collector) ContactSubmission() {
	c.contactSubmissions.Add(1)
}

// Error records one request that ended in a server error.
func (c *Collector) Error() {
	c.errors.Add(1)
}

// Snapshot returns the current counter values.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		PageViews:          c.pageViews.Load(),
		ProjectViews:       c.projectViews.Load(),
		ContactSubmissions: c.contactSubmissions.Load(),
		Errors:             c.errors.Load(),
	}
}
