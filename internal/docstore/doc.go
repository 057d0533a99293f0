// Package docstore is a small document store over SQLite.
//
// Documents are JSON objects grouped into named collections. The store offers
// what the lifecycle engine needs and nothing more:
//   - equality and range queries with at most two chained predicates
//   - point reads and writes by id
//   - atomic multi-document batches (one SQLite transaction per commit)
//   - a Now accessor consistent with the timestamps it persists
//
// Time values are persisted as fixed-width UTC strings (TimeLayout) and
// compared as text, so a cutoff computed from Now compares exactly, to the
// nanosecond, against stored fields. A document missing the queried field
// never matches a range predicate.
package docstore
