// Package eventlog records what every clock node does, one append-only record
// per send, process or internal event.
//
// Records can be kept in memory, written to one CSV file per node in the
// format the simulator has always produced, or appended to a SQLite database
// shared by a whole run. Merge and CheckHistory turn the records of many nodes
// back into a single Lamport-ordered history.
package eventlog
