// Package cluster boots a full-mesh set of clock nodes, runs them for a
// fixed duration, stops them and reports what happened.
package cluster
