package model

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Event is one calendar entry: a tournament, match night or festival.
// Soft-deleted rows stay in the table until a permanent delete removes them.
type Event struct {
	ID          uint           `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Title       string         `gorm:"column:title;type:varchar(256);not null" json:"title"`
	StartDate   time.Time      `gorm:"column:start_date;index;not null" json:"start_date"`
	EndDate     time.Time      `gorm:"column:end_date;not null" json:"end_date"`
	Location    string         `gorm:"column:location;type:varchar(256)" json:"location,omitempty"`
	Venue       string         `gorm:"column:venue;type:varchar(256)" json:"venue,omitempty"`
	Description string         `gorm:"column:description;type:text" json:"description,omitempty"`
	Format      string         `gorm:"column:format;type:varchar(64)" json:"format,omitempty"` // classical/rapid/blitz/bullet/freestyle/other
	Rounds      *int           `gorm:"column:rounds" json:"rounds,omitempty"`
	EventType   string         `gorm:"column:event_type;type:varchar(64)" json:"event_type,omitempty"`
	Category    string         `gorm:"column:category;type:varchar(64)" json:"category,omitempty"`
	Continent   string         `gorm:"column:continent;type:varchar(64);index" json:"continent,omitempty"`
	Players     string         `gorm:"column:players;type:text" json:"players,omitempty"` // free-text participant list
	PrizeFund   string         `gorm:"column:prize_fund;type:varchar(128)" json:"prize_fund,omitempty"`
	Special     string         `gorm:"column:special;type:varchar(8)" json:"special,omitempty"` // "true" when highlighted
	URL         string         `gorm:"column:url;type:varchar(512);not null" json:"url"`        // official site, required
	Landing     string         `gorm:"column:landing;type:varchar(512)" json:"landing,omitempty"`
	LiveGames   string         `gorm:"column:live_games;type:varchar(512)" json:"live_games,omitempty"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"column:deleted_at;index" json:"-"`
}

// TableName keeps the historical table name.
func (Event) TableName() string { return "events" }

// IsSpecial reports whether the special flag is set (stored as the string "true").
func (e *Event) IsSpecial() bool { return strings.EqualFold(e.Special, "true") }

// EventInput is the write payload accepted by the create and import paths.
// Dates arrive as strings so callers can submit 2006-01-02 or RFC3339.
type EventInput struct {
	Title       string `json:"title"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Location    string `json:"location"`
	Venue       string `json:"venue"`
	Description string `json:"description"`
	Format      string `json:"format"`
	Rounds      *int   `json:"rounds"`
	EventType   string `json:"event_type"`
	Category    string `json:"category"`
	Continent   string `json:"continent"`
	Players     string `json:"players"`
	PrizeFund   string `json:"prize_fund"`
	Special     string `json:"special"`
	URL         string `json:"url"`
	Landing     string `json:"landing"`
	LiveGames   string `json:"live_games"`
}

// DuplicateGroup is one cluster of active events sharing the coarse
// identity key (lower(title), location, start_date). IDs are ordered by
// created_at ascending, so the first entry is the record cleanup keeps.
type DuplicateGroup struct {
	Title     string    `json:"title"`
	Location  string    `json:"location"`
	StartDate time.Time `json:"start_date"`
	Count     int       `json:"count"`
	IDs       []uint    `json:"ids"`
}
