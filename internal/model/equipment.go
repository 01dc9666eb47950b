package model

import "time"

// EquipmentRecord is a normalized manufacturer+model pair first sighted by
// the pipeline. Records are never deleted; ActivityCount tracks how many
// runs have linked to the record since creation.
type EquipmentRecord struct {
	ID            string    `json:"id"`
	Manufacturer  string    `json:"manufacturer"`
	Model         string    `json:"model"`
	Serial        string    `json:"serial,omitempty"`
	Location      string    `json:"location,omitempty"`
	ActivityCount int64     `json:"activity_count"`
	CreatedAt     time.Time `json:"created_at"`
}
