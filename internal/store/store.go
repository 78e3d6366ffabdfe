// Package store persists client identities and chat messages. The
// real-time path never blocks on it: callers issue writes from goroutines
// and treat failures as logged, best-effort losses.
package store

import (
	"errors"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"
)

// Client is a persisted pseudonymous identity.
type Client struct {
	UUID     string `gorm:"primaryKey;size:64"`
	Username string `gorm:"size:64;not null"`
	Admin    bool   `gorm:"not null;default:false"`
	Color    string `gorm:"size:7;not null"`
}

// Message is a persisted chat message.
type Message struct {
	UID        string `gorm:"primaryKey;size:16"`
	ClientUUID string `gorm:"size:64;not null"`
	Content    string `gorm:"not null"`
	Color      string `gorm:"size:7;not null"`
	RoomName   string `gorm:"size:64;not null;index"`
	Timestamp  int64  `gorm:"autoCreateTime:milli"`
}

// Store is the persistence interface the hub consumes.
type Store interface {
	// Client returns the identity for uuid, or nil if unknown.
	Client(uuid string) (*Client, error)
	// SaveClient inserts or replaces an identity record.
	SaveClient(c *Client) error
	// UpdateClientName changes a stored identity's display name.
	UpdateClientName(uuid, name string) error
	// UpdateClientColor changes a stored identity's color.
	UpdateClientColor(uuid, color string) error
	// UpdateClientAdmin changes a stored identity's admin flag.
	UpdateClientAdmin(uuid string, admin bool) error
	// SaveMessage persists a chat message.
	SaveMessage(m *Message) error
	// DeleteMessage removes a chat message by id.
	DeleteMessage(uid string) error
	// RecentMessages returns up to limit messages for a room,
	// oldest first.
	RecentMessages(room string, limit int) ([]Message, error)
}

// DB is the sqlite-backed Store.
type DB struct {
	db *gorm.DB
}

// Open opens (creating if needed) the sqlite database at path and runs
// migrations. Use "file::memory:?cache=shared" for an in-memory database.
func Open(path string) (*DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: glogger.Default.LogMode(glogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	if err := db.AutoMigrate(&Client{}, &Message{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{db: db}, nil
}

// Client returns the identity for uuid, or nil if unknown.
func (d *DB) Client(uuid string) (*Client, error) {
	var c Client
	err := d.db.First(&c, "uuid = ?", uuid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveClient inserts or replaces an identity record.
func (d *DB) SaveClient(c *Client) error {
	return d.db.Save(c).Error
}

// UpdateClientName changes a stored identity's display name.
func (d *DB) UpdateClientName(uuid, name string) error {
	return d.db.Model(&Client{}).Where("uuid = ?", uuid).Update("username", name).Error
}

// UpdateClientColor changes a stored identity's color.
func (d *DB) UpdateClientColor(uuid, color string) error {
	return d.db.Model(&Client{}).Where("uuid = ?", uuid).Update("color", color).Error
}

// UpdateClientAdmin changes a stored identity's admin flag.
func (d *DB) UpdateClientAdmin(uuid string, admin bool) error {
	return d.db.Model(&Client{}).Where("uuid = ?", uuid).Update("admin", admin).Error
}

// SaveMessage persists a chat message.
func (d *DB) SaveMessage(m *Message) error {
	return d.db.Create(m).Error
}

// DeleteMessage removes a chat message by id.
func (d *DB) DeleteMessage(uid string) error {
	return d.db.Delete(&Message{}, "uid = ?", uid).Error
}

// RecentMessages returns up to limit messages for a room, oldest first.
func (d *DB) RecentMessages(room string, limit int) ([]Message, error) {
	var rows []Message
	err := d.db.Where("room_name = ?", room).
		Order("timestamp DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}
