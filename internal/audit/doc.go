// Package audit defines the data model, status state machine, error taxonomy,
// and collaborator interfaces shared by every subsystem of the site auditor.
package audit
