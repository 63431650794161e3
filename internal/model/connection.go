package model

import "time"

// DBType identifies the database engine a Connection points at.
type DBType string

const (
	DBTypePostgres DBType = "postgres"
	DBTypeMySQL    DBType = "mysql"
)

// Valid reports whether t is a supported engine.
func (t DBType) Valid() bool {
	return t == DBTypePostgres || t == DBTypeMySQL
}

// DefaultPort returns the engine's conventional port, or 0 if unknown.
func (t DBType) DefaultPort() int {
	switch t {
	case DBTypePostgres:
		return 5432
	case DBTypeMySQL:
		return 3306
	default:
		return 0
	}
}

// Connection is a saved database-connection record.
//
// Passwords are never stored. The connection test endpoint takes one in
// the request body and forgets it afterwards.
type Connection struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	DBType    DBType    `json:"dbType"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Username  string    `json:"username"`
	Database  string    `json:"database"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConnectionListing is a Connection with its owner and share list, as
// returned by the connection search.
//
// The embedded Connection is flattened into the JSON object, so clients
// see {"id":..., "name":..., "owner":{...}, "sharedWith":[...]}.
type ConnectionListing struct {
	Connection
	Owner      UserRef   `json:"owner"`
	SharedWith []UserRef `json:"sharedWith"`
	ShareCount int       `json:"shareCount"`
}
