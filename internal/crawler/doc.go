// Package crawler holds the domain types shared by the results crawler: the
// geographic path of a polling station, the work items flowing through the
// queue, the persisted Record, and the small interfaces that wire the fetch,
// build, and storage layers together.
package crawler
