package models

import (
	"time"

	"github.com/google/uuid"
)

// Organization represents a tenant in the system. Each organization can have
// multiple member accounts; row-level-security policies isolate its rows.
type Organization struct {
	OrgID       uuid.UUID // UUIDv7
	Name        string
	OwnerUserID uuid.UUID // UUIDv7, FK to accounts
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
