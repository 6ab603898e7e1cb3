// Package admission defines the queue-side data model: prioritised
// requests, priority bands and completion records.
package admission
