// Package sqlite persists pipeline run records in the database opened by
// package db.
//
// Each run row carries the input and output paths, the terminal
// reconstruction state, point and triangle counts, warnings and the
// parameters used. Stage timings go to a child table keyed by run ID.
package sqlite
