// Package orchestrator drives one audit from record creation to its terminal
// status. The page fetch runs concurrently with one scorer call per device
// profile; the fetch is fatal to the audit while scorer, link probe, snapshot
// and notification failures only degrade the report.
package orchestrator
