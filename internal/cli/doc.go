// Package cli implements the lamportsim command line: run a simulated
// cluster, run a single gRPC node, and inspect recorded runs.
package cli
