// Package catalog contains distributed, lazily-evaluated particle catalogs.
//
// A Catalog is a set of named columns partitioned across the ranks of a
// communicator: each rank owns a contiguous shard of the global rows. Columns
// are hard (read from a FileStack), procedural (generated from the global row
// index and a seed) or virtual (expressions over other columns). Nothing is
// read or computed until a column is explicitly materialized, and row
// selections are pushed down to the point where data is fetched.
package catalog
