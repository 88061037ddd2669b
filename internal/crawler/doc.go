// Package crawler defines the work item model, parse bundles and the
// interfaces shared by the queue, fetcher, dispatcher, worker pool and sinks
// of the search crawler.
package crawler
