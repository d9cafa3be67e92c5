package models

import (
	"time"

	"github.com/google/uuid"
)

// JobItemStatus represents whether a handshake has been cracked
type JobItemStatus string

const (
	JobItemStatusPending JobItemStatus = "pending"
	JobItemStatusCracked JobItemStatus = "cracked"
)

// JobItem is one extracted network/handshake candidate of a job
type JobItem struct {
	ID        int64         `json:"id" db:"id"`
	JobID     uuid.UUID     `json:"job_id" db:"job_id"`
	OwnerID   uuid.UUID     `json:"owner_id" db:"owner_id"`
	ESSID     string        `json:"essid" db:"essid"`
	BSSID     string        `json:"bssid" db:"bssid"`
	Status    JobItemStatus `json:"status" db:"status"`
	Password  *string       `json:"password,omitempty" db:"password"`
	CrackedAt *time.Time    `json:"cracked_at,omitempty" db:"cracked_at"`
}

// JobDictionaryStatus is the outcome of one cracking attempt
type JobDictionaryStatus string

const (
	JobDictionaryStatusPending   JobDictionaryStatus = "pending"
	JobDictionaryStatusCompleted JobDictionaryStatus = "completed"
	JobDictionaryStatusFailed    JobDictionaryStatus = "failed"
)

// JobDictionary pairs a job with one wordlist
type JobDictionary struct {
	ID           int64               `json:"id" db:"id"`
	JobID        uuid.UUID           `json:"job_id" db:"job_id"`
	DictionaryID int                 `json:"dictionary_id" db:"dictionary_id"`
	Status       JobDictionaryStatus `json:"status" db:"status"`
}

// Dictionary is wordlist metadata owned by the upload subsystem
type Dictionary struct {
	ID        int       `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Path      string    `json:"path" db:"path"`
	Size      int64     `json:"size" db:"size"`
	OwnerID   uuid.UUID `json:"owner_id" db:"owner_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Result is one recovered (essid, password) pair
type Result struct {
	ID        int64     `json:"id" db:"id"`
	JobID     uuid.UUID `json:"job_id" db:"job_id"`
	OwnerID   uuid.UUID `json:"owner_id" db:"owner_id"`
	ESSID     string    `json:"essid" db:"essid"`
	Password  string    `json:"password" db:"password"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
