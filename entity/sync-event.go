package entity

import "time"

type SyncStatus string

const (
	SyncPending  SyncStatus = "pending"
	SyncInFlight SyncStatus = "in_flight" // claimed by a delivery worker
	SyncDone     SyncStatus = "done"
	SyncFailed   SyncStatus = "failed" // gave up after max attempts
)

// SyncEvent is a queued marketing-sync notification, persisted in the
// outbox so registration never waits on a third-party call. The payload
// is a snapshot: later admin edits do not alter what gets mirrored.
type SyncEvent struct {
	Id             string         `json:"id" bson:"id"`
	RegistrationId string         `json:"registration_id" bson:"registration_id"`
	Registration   Registration   `json:"registration" bson:"registration"`
	Warranty       WarrantyNumber `json:"warranty" bson:"warranty"`
	CrmDone        bool           `json:"crm_done" bson:"crm_done"`
	StoreDone      bool           `json:"store_done" bson:"store_done"`
	Attempts       int            `json:"attempts" bson:"attempts"`
	LastError      string         `json:"last_error,omitempty" bson:"last_error,omitempty"`
	Status         SyncStatus     `json:"status" bson:"status"`
	CreatedAt      time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" bson:"updated_at"`
}
