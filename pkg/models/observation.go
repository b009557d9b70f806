package models

// Observation is one normalized record handed to the ingest upsert by an ETL
// connector. Empty identifier fields mean the source did not supply that
// signal.
type Observation struct {
	EntityType     EntityType `json:"entity_type"`
	DisplayName    string     `json:"display_name"`
	Email          string     `json:"email,omitempty"`
	Phone          string     `json:"phone,omitempty"`
	SecondaryPhone string     `json:"secondary_phone,omitempty"`
	Microchip      string     `json:"microchip,omitempty"`
	ClinicID       string     `json:"clinic_id,omitempty"`
	Address        string     `json:"address,omitempty"`
	SourceSystem   string     `json:"source_system"`
	SourceTable    string     `json:"source_table,omitempty"`
	SourceRecordID string     `json:"source_record_id,omitempty"`
	DataSource     DataSource `json:"data_source"`
}

// RunSummary accumulates per-record outcomes of an ingest run for operator
// review. Anomalies (blocked, protected, collisions) are counted here rather
// than interrupting the batch.
type RunSummary struct {
	Created          int `json:"created"`
	Updated          int `json:"updated"`
	SkippedProtected int `json:"skipped_protected"`
	Blocked          int `json:"blocked"`
	Collisions       int `json:"collisions"`
	NoSignal         int `json:"no_signal"`
}

// Merge adds another summary's counts into this one.
func (s *RunSummary) Merge(other RunSummary) {
	s.Created += other.Created
	s.Updated += other.Updated
	s.SkippedProtected += other.SkippedProtected
	s.Blocked += other.Blocked
	s.Collisions += other.Collisions
	s.NoSignal += other.NoSignal
}
