package model

import (
	"time"

	"github.com/google/uuid"
)

// SyncRecord remembers the checksum of the last configuration payload
// pushed to the provider for a module, or for one user within a module
// when UserID is set. A reconcile pass skips the remote push whenever the
// freshly computed checksum matches LastChecksum.
type SyncRecord struct {
	ID           uuid.UUID `json:"id"`
	CourseID     int64     `json:"course_id"`
	ModuleID     int64     `json:"module_id"`
	UserID       *int64    `json:"user_id,omitempty"`
	LastChecksum string    `json:"last_checksum"`
	TimeUploaded time.Time `json:"time_uploaded"`
}
