package storage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TransactionRecord is the persisted form of a transaction. The unique
// index on (tr_date, tr_time, stan) is the transaction key.
type TransactionRecord struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey"`
	TrDate          string         `gorm:"size:8;not null;uniqueIndex:idx_transactions_key"`
	TrTime          string         `gorm:"size:6;not null;uniqueIndex:idx_transactions_key"`
	Stan            string         `gorm:"size:6;not null;uniqueIndex:idx_transactions_key;index"`
	CorrelationID   string         `gorm:"size:64;index"`
	MTI             string         `gorm:"size:4;not null"`
	ProcessingCode  string         `gorm:"size:6"`
	TerminalID      string         `gorm:"size:8;index"`
	MerchantID      string         `gorm:"size:15"`
	AmountMinor     int64          `gorm:"not null"`
	Currency        string         `gorm:"size:3"`
	Fields          map[int]string `gorm:"serializer:json;type:text"`
	State           string         `gorm:"size:16;not null;index"`
	Version         int            `gorm:"not null"`
	ResponseCode    string         `gorm:"size:2"`
	ResponseMessage string         `gorm:"size:128"`
	AuthCode        string         `gorm:"size:6"`
	RRN             string         `gorm:"size:12"`
	ReversalStan    string         `gorm:"size:6;index"`
	ReversalReason  string         `gorm:"size:32"`
	InsertedAt      time.Time      `gorm:"not null;index"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime:false"`
}

func (TransactionRecord) TableName() string {
	return "transactions"
}

// StateChangeRecord is one row of the transaction audit trail.
type StateChangeRecord struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	TransactionID uuid.UUID `gorm:"type:uuid;not null;index"`
	Seq           int       `gorm:"not null"`
	FromState     string    `gorm:"size:16"`
	ToState       string    `gorm:"size:16;not null"`
	Note          string    `gorm:"size:255"`
	ChangedAt     time.Time `gorm:"not null"`
}

func (StateChangeRecord) TableName() string {
	return "transaction_state_changes"
}

// AutoMigrate creates or updates the schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&TransactionRecord{},
		&StateChangeRecord{},
	)
}
