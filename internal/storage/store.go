// Package storage persists transactions and their state history with gorm.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mkadit/iso8583/v2/internal/transaction"
)

var (
	ErrNotFound  = errors.New("transaction not found")
	ErrDuplicate = errors.New("duplicate transaction key")
	ErrConflict  = errors.New("transaction was modified concurrently")
)

// Config selects the database driver and connection string.
type Config struct {
	Driver      string `toml:"driver"`
	DSN         string `toml:"dsn"`
	AutoMigrate bool   `toml:"auto_migrate"`
	LogQueries  bool   `toml:"log_queries"`
}

// Open connects to the configured database. Supported drivers are
// "sqlite" and "postgres".
func Open(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite", "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	gormCfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	}
	if cfg.LogQueries {
		gormCfg.Logger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if dialector.Name() == "sqlite" {
		// SQLite takes one writer at a time.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if cfg.AutoMigrate {
		if err := AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return db, nil
}

// GormStore implements transaction persistence on top of gorm.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Insert stores a new transaction together with its initial history.
// An existing row with the same key yields ErrDuplicate.
func (s *GormStore) Insert(ctx context.Context, tx *transaction.Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	rec, err := toRecord(tx)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var count int64
		if err := db.Model(&TransactionRecord{}).
			Where("tr_date = ? AND tr_time = ? AND stan = ?", rec.TrDate, rec.TrTime, rec.Stan).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicate
		}
		if err := db.Create(rec).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicate
			}
			return err
		}
		return insertChanges(db, rec.ID, tx)
	})
	if err != nil {
		return fmt.Errorf("insert %s: %w", tx.Key, err)
	}
	tx.MarkSaved()
	return nil
}

// Update writes the current state of tx. The row must still carry the
// version tx was loaded with, otherwise ErrConflict is returned.
func (s *GormStore) Update(ctx context.Context, tx *transaction.Transaction) error {
	rec, err := toRecord(tx)
	if err != nil {
		return err
	}
	changes := tx.UnsavedChanges()
	expected := tx.Version - len(changes)

	err = s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		res := db.Model(&TransactionRecord{}).
			Where("id = ? AND version = ?", rec.ID, expected).
			Updates(map[string]any{
				"state":            rec.State,
				"version":          rec.Version,
				"response_code":    rec.ResponseCode,
				"response_message": rec.ResponseMessage,
				"auth_code":        rec.AuthCode,
				"rrn":              rec.RRN,
				"reversal_stan":    rec.ReversalStan,
				"reversal_reason":  rec.ReversalReason,
				"updated_at":       rec.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		return insertChanges(db, rec.ID, tx)
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", tx.Key, err)
	}
	tx.MarkSaved()
	return nil
}

func (s *GormStore) FindByID(ctx context.Context, id string) (*transaction.Transaction, error) {
	return s.first(ctx, s.db.WithContext(ctx).Where("id = ?", id))
}

func (s *GormStore) FindByKey(ctx context.Context, key transaction.Key) (*transaction.Transaction, error) {
	return s.first(ctx, s.db.WithContext(ctx).
		Where("tr_date = ? AND tr_time = ? AND stan = ?", key.Date, key.Time, key.STAN))
}

// FindByStan returns the most recent transaction with the given STAN.
func (s *GormStore) FindByStan(ctx context.Context, stan string) (*transaction.Transaction, error) {
	return s.first(ctx, s.db.WithContext(ctx).
		Where("stan = ?", stan).
		Order("inserted_at DESC"))
}

// FindByReversalStan returns the transaction whose latest reversal used stan.
func (s *GormStore) FindByReversalStan(ctx context.Context, stan string) (*transaction.Transaction, error) {
	return s.first(ctx, s.db.WithContext(ctx).
		Where("reversal_stan = ?", stan).
		Order("updated_at DESC"))
}

// FindStale returns up to limit transactions in one of states that have
// not been updated since before.
func (s *GormStore) FindStale(ctx context.Context, states []transaction.State, before time.Time, limit int) ([]*transaction.Transaction, error) {
	names := make([]string, len(states))
	for i, st := range states {
		names[i] = string(st)
	}

	var recs []TransactionRecord
	q := s.db.WithContext(ctx).
		Where("state IN ? AND updated_at < ?", names, before).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("find stale: %w", err)
	}

	out := make([]*transaction.Transaction, 0, len(recs))
	for i := range recs {
		tx, err := s.load(ctx, &recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

// MaxStan returns the highest STAN used on date (YYYYMMDD), including
// reversal STANs, or 0 when none.
func (s *GormStore) MaxStan(ctx context.Context, date string) (int, error) {
	db := s.db.WithContext(ctx).Model(&TransactionRecord{}).Where("tr_date = ?", date)

	var stan, revStan sql.NullString
	if err := db.Session(&gorm.Session{}).Select("MAX(stan)").Row().Scan(&stan); err != nil {
		return 0, fmt.Errorf("max stan: %w", err)
	}
	if err := db.Session(&gorm.Session{}).Select("MAX(reversal_stan)").Row().Scan(&revStan); err != nil {
		return 0, fmt.Errorf("max reversal stan: %w", err)
	}

	highest := 0
	for _, v := range []sql.NullString{stan, revStan} {
		if !v.Valid || v.String == "" {
			continue
		}
		n, err := strconv.Atoi(v.String)
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return highest, nil
}

func (s *GormStore) first(ctx context.Context, q *gorm.DB) (*transaction.Transaction, error) {
	var rec TransactionRecord
	if err := q.First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.load(ctx, &rec)
}

func (s *GormStore) load(ctx context.Context, rec *TransactionRecord) (*transaction.Transaction, error) {
	var changes []StateChangeRecord
	if err := s.db.WithContext(ctx).
		Where("transaction_id = ?", rec.ID).
		Order("seq ASC").
		Find(&changes).Error; err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return fromRecord(rec, changes), nil
}

func insertChanges(db *gorm.DB, id uuid.UUID, tx *transaction.Transaction) error {
	changes := tx.UnsavedChanges()
	if len(changes) == 0 {
		return nil
	}
	base := len(tx.History()) - len(changes)
	rows := make([]StateChangeRecord, len(changes))
	for i, c := range changes {
		rows[i] = StateChangeRecord{
			ID:            uuid.New(),
			TransactionID: id,
			Seq:           base + i,
			FromState:     string(c.From),
			ToState:       string(c.To),
			Note:          c.Note,
			ChangedAt:     c.At,
		}
	}
	return db.Create(&rows).Error
}

func toRecord(tx *transaction.Transaction) (*TransactionRecord, error) {
	id, err := uuid.Parse(tx.ID)
	if err != nil {
		return nil, fmt.Errorf("transaction id %q: %w", tx.ID, err)
	}
	return &TransactionRecord{
		ID:              id,
		TrDate:          tx.Date,
		TrTime:          tx.Time,
		Stan:            tx.STAN,
		CorrelationID:   tx.CorrelationID,
		MTI:             tx.MTI,
		ProcessingCode:  tx.Processing,
		TerminalID:      tx.TerminalID,
		MerchantID:      tx.MerchantID,
		AmountMinor:     tx.AmountMinor,
		Currency:        tx.Currency,
		Fields:          tx.Fields,
		State:           string(tx.State),
		Version:         tx.Version,
		ResponseCode:    tx.ResponseCode,
		ResponseMessage: tx.ResponseMessage,
		AuthCode:        tx.AuthCode,
		RRN:             tx.RRN,
		ReversalStan:    tx.ReversalSTAN,
		ReversalReason:  tx.ReversalReason,
		InsertedAt:      tx.InsertedAt,
		UpdatedAt:       tx.UpdatedAt,
	}, nil
}

func fromRecord(rec *TransactionRecord, changes []StateChangeRecord) *transaction.Transaction {
	tx := &transaction.Transaction{
		Key:             transaction.Key{Date: rec.TrDate, Time: rec.TrTime, STAN: rec.Stan},
		ID:              rec.ID.String(),
		CorrelationID:   rec.CorrelationID,
		MTI:             rec.MTI,
		Processing:      rec.ProcessingCode,
		TerminalID:      rec.TerminalID,
		MerchantID:      rec.MerchantID,
		AmountMinor:     rec.AmountMinor,
		Currency:        rec.Currency,
		Fields:          rec.Fields,
		State:           transaction.State(rec.State),
		Version:         rec.Version,
		ResponseCode:    rec.ResponseCode,
		ResponseMessage: rec.ResponseMessage,
		AuthCode:        rec.AuthCode,
		RRN:             rec.RRN,
		ReversalSTAN:    rec.ReversalStan,
		ReversalReason:  rec.ReversalReason,
		InsertedAt:      rec.InsertedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
	if tx.Fields == nil {
		tx.Fields = map[int]string{}
	}
	history := make([]transaction.Change, len(changes))
	for i, c := range changes {
		history[i] = transaction.Change{
			From: transaction.State(c.FromState),
			To:   transaction.State(c.ToState),
			At:   c.ChangedAt,
			Note: c.Note,
		}
	}
	tx.Restore(history)
	return tx
}
