package model

import "time"

// SyncKind identifies one of the three sync operations.
type SyncKind string

const (
	SyncImportUnits    SyncKind = "import_units"
	SyncImportContacts SyncKind = "import_contacts"
	SyncExportOffices  SyncKind = "export_offices"
)

// Direction returns the data-flow direction for the kind.
func (k SyncKind) Direction() SyncDirection {
	if k == SyncExportOffices {
		return SyncToUpstream
	}
	return SyncFromUpstream
}

// SyncDirection is the data-flow direction of a sync run.
type SyncDirection string

const (
	SyncFromUpstream SyncDirection = "from_upstream"
	SyncToUpstream   SyncDirection = "to_upstream"
)

// SyncStatus is the outcome state of a sync run.
type SyncStatus string

const (
	SyncStarted   SyncStatus = "started"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

// SyncRun records one sync engine execution. A run that crashes between
// start and completion leaves a dangling "started" row; that is visible
// to operators but never blocks later runs.
type SyncRun struct {
	ID               int64         `json:"id"`
	Kind             SyncKind      `json:"kind"`
	Direction        SyncDirection `json:"direction"`
	RecordsProcessed int           `json:"records_processed"`
	Status           SyncStatus    `json:"status"`
	ErrorMessage     string        `json:"error_message,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// Stats summarizes local store contents for the status command.
type Stats struct {
	ExtractionsByStatus map[ExtractionStatus]int `json:"extractions_by_status"`
	ValidatedOffices    int                      `json:"validated_offices"`
	UnsyncedOffices     int                      `json:"unsynced_offices"`
	TotalUnits          int                      `json:"total_units"`
	UnitsWithoutOffices int                      `json:"units_without_offices"`
}
