package model

import "time"

// Permission is the access level carried by an API key.
type Permission int

// Permission constants. Values match the stored integer column.
const (
	PermissionUser      Permission = 1
	PermissionSuperUser Permission = 2
)

func (p Permission) String() string {
	switch p {
	case PermissionUser:
		return "USER"
	case PermissionSuperUser:
		return "SUPER_USER"
	}
	return "UNKNOWN"
}

// ApiKey identifies a client. USER keys submit and query work, SUPER_USER keys
// are held by workers.
type ApiKey struct {
	ID         int64      `json:"id"`
	Key        string     `json:"-"`
	Owner      string     `json:"owner"`
	Permission Permission `json:"permission"`
	Suspended  bool       `json:"suspended"`
}

// Request is a submitted document: a set of pages processed by one engine.
type Request struct {
	ID                    string     `json:"id"`
	EngineID              int64      `json:"engine_id"`
	ApiKeyID              int64      `json:"api_key_id"`
	CreationTimestamp     time.Time  `json:"creation_timestamp"`
	ModificationTimestamp time.Time  `json:"modification_timestamp"`
	FinishTimestamp       *time.Time `json:"finish_timestamp,omitempty"`
	// SweptTimestamp is set once retention has expired the request's results.
	SweptTimestamp *time.Time `json:"swept_timestamp,omitempty"`
}

// NotificationState is the singleton row throttling outbound alerts.
type NotificationState struct {
	LastNotification *time.Time
}
