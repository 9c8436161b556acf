package models

import "time"

// EventRecord is the off-chain projection of a committed ledger mutation.
// At most one row exists per tx_id; block_number/block_hash stay null until
// the block-commit notification is reconciled in.
type EventRecord struct {
	ID          uint      `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	EventName   string    `gorm:"column:event_name;type:varchar(64);not null" json:"event_name"`
	Payload     string    `gorm:"column:payload;type:text" json:"payload"`
	TxID        string    `gorm:"column:tx_id;type:varchar(128);uniqueIndex;not null" json:"tx_id"`
	BlockNumber *int64    `gorm:"column:block_number" json:"block_number"`
	BlockHash   *string   `gorm:"column:block_hash;type:varchar(128)" json:"block_hash"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName keeps the table name the relay and importer share.
func (EventRecord) TableName() string {
	return "events"
}
