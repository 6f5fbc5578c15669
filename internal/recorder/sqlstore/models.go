package sqlstore

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

// Models lists every table the backend migrates.
var Models = []any{
	&MarkerEvent{},
	&PositionEvent{},
	&ChatEvent{},
	&ConnectionEvent{},
}

// MarkerEvent records a marker being placed or removed.
type MarkerEvent struct {
	ID       uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	Time     time.Time      `json:"time" gorm:"not null;index"`
	Action   string         `json:"action" gorm:"size:16;not null"` // added or removed
	ClientID string         `json:"clientId" gorm:"size:64;index"`
	UserID   string         `json:"userId" gorm:"size:128;index"`
	MarkerID string         `json:"markerId" gorm:"size:255;index"`
	Position geom.Point     `json:"position"`
	Marker   datatypes.JSON `json:"marker"`
}

func (*MarkerEvent) TableName() string { return "marker_events" }

// PositionEvent is one player position report.
type PositionEvent struct {
	ID       uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	Time     time.Time      `json:"time" gorm:"not null;index"`
	ClientID string         `json:"clientId" gorm:"size:64;index"`
	UserID   string         `json:"userId" gorm:"size:128;index"`
	Position geom.Point     `json:"position"`
	Player   datatypes.JSON `json:"player"`
}

func (*PositionEvent) TableName() string { return "position_events" }

// ChatEvent keeps the chat message exactly as relayed.
type ChatEvent struct {
	ID       uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	Time     time.Time      `json:"time" gorm:"not null;index"`
	ClientID string         `json:"clientId" gorm:"size:64;index"`
	Message  datatypes.JSON `json:"message"`
}

func (*ChatEvent) TableName() string { return "chat_events" }

// ConnectionEvent records a client joining or leaving.
type ConnectionEvent struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time `json:"time" gorm:"not null;index"`
	ClientID  string    `json:"clientId" gorm:"size:64;index"`
	Remote    string    `json:"remote" gorm:"size:128"`
	Connected bool      `json:"connected"`
}

func (*ConnectionEvent) TableName() string { return "connection_events" }
