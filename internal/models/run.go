package models

import "time"

// IngestRun is the audit record of one pipeline execution.
type IngestRun struct {
	ID               string     `json:"id"`
	Provider         string     `json:"provider"`
	Source           string     `json:"source"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at"`
	RowsTotal        int        `json:"rows_total"`
	RowsValid        int        `json:"rows_valid"`
	UnitsUpserted    int        `json:"units_upserted"`
	UnitsSoftDeleted int        `json:"units_soft_deleted"`
	AlertsCount      int        `json:"alerts_count"`
	BuildingsSkipped int        `json:"buildings_skipped"`
	Warning          bool       `json:"warning"`
}

// RunCounters are the values accumulated while a run is in flight.
type RunCounters struct {
	RowsTotal        int  `json:"rows_total"`
	RowsValid        int  `json:"rows_valid"`
	UnitsUpserted    int  `json:"units_upserted"`
	UnitsSoftDeleted int  `json:"units_soft_deleted"`
	AlertsCount      int  `json:"alerts_count"`
	BuildingsSkipped int  `json:"buildings_skipped"`
	Warning          bool `json:"warning"`
}

// Apply copies the counters onto the run record.
func (r *IngestRun) Apply(c RunCounters) {
	r.RowsTotal = c.RowsTotal
	r.RowsValid = c.RowsValid
	r.UnitsUpserted = c.UnitsUpserted
	r.UnitsSoftDeleted = c.UnitsSoftDeleted
	r.AlertsCount = c.AlertsCount
	r.BuildingsSkipped = c.BuildingsSkipped
	r.Warning = c.Warning
}
