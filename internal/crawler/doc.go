// Package crawler defines the vocabulary shared by the feed crawler: crawl
// items, source specs, job records, storage interfaces, typed errors, and the
// object key layout used for chunks and logs.
package crawler
