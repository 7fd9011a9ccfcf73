// Package gormstore implements the paging core's durable reference and
// message-body store on top of GORM, the way pkg/database's Connect()
// selected a dialector in the teacher repo. The paged segment of a channel
// and the message journal both live here; the in-memory tiers
// (OrderedMultiset, DownCache, bodycache) are what make most requests
// never reach this package at all.
package gormstore

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shashiranjanraj/chanpage/internal/paging"
)

var upsertReferenceClause = clause.OnConflict{
	Columns:   []clause.Column{{Name: "channel_id"}, {Name: "message_id"}},
	DoUpdates: clause.AssignmentColumns([]string{"priority", "delivery_count", "reliable", "paging_order"}),
}

// ReferenceRow is the durable row for one channel's reference. PagingOrder
// is NULL for a reference that has not (yet, or any longer) been paged out.
type ReferenceRow struct {
	ChannelID     string `gorm:"primaryKey;size:191"`
	MessageID     string `gorm:"primaryKey;size:191"`
	Priority      int8
	DeliveryCount int
	Reliable      bool
	PagingOrder   *int64 `gorm:"index:idx_channel_paging_order"`
}

func (ReferenceRow) TableName() string { return "paging_references" }

// MessageBodyRow is the durable message journal: one row per distinct
// message body, shared across every channel that references it.
type MessageBodyRow struct {
	MessageID string `gorm:"primaryKey;size:191"`
	Body      []byte
}

func (MessageBodyRow) TableName() string { return "paging_message_bodies" }

// Connect opens a GORM connection using the dialector named by driver.
// Supported drivers: sqlite, postgres, mysql, sqlserver.
func Connect(driver, dsn string) (*gorm.DB, error) {
	dialector, err := buildDialector(driver, dsn)
	if err != nil {
		return nil, err
	}
	return gorm.Open(dialector, &gorm.Config{})
}

func buildDialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "sqlite":
		return sqlite.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlserver":
		return sqlserver.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q (supported: sqlite, postgres, mysql, sqlserver)", driver)
	}
}

// Store is a paging.PersistenceManager backed by a *gorm.DB.
type Store struct {
	db *gorm.DB
}

// NewStore migrates the schema and returns a Store over db.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&ReferenceRow{}, &MessageBodyRow{}); err != nil {
		return nil, fmt.Errorf("gormstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// PutMessageBody durably journals a message body. Called by bodycache the
// first time a message is registered, so the body survives even after
// every in-memory reference to it is released.
func (s *Store) PutMessageBody(ctx context.Context, id string, body []byte) error {
	row := MessageBodyRow{MessageID: id, Body: body}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func (s *Store) GetInitialReferenceInfos(ctx context.Context, channelID string, limit int) (paging.InitialLoadInfo, error) {
	var rows []ReferenceRow
	err := s.db.WithContext(ctx).
		Where("channel_id = ? AND paging_order IS NULL", channelID).
		Order("message_id").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return paging.InitialLoadInfo{}, err
	}

	var out paging.InitialLoadInfo
	out.Infos = make([]paging.ReferenceInfo, len(rows))
	for i, r := range rows {
		out.Infos[i] = rowToInfo(r)
	}

	var agg struct {
		Min sql.NullInt64
		Max sql.NullInt64
	}
	err = s.db.WithContext(ctx).Model(&ReferenceRow{}).
		Where("channel_id = ? AND paging_order IS NOT NULL", channelID).
		Select("MIN(paging_order) AS min, MAX(paging_order) AS max").
		Scan(&agg).Error
	if err != nil {
		return paging.InitialLoadInfo{}, err
	}
	if agg.Min.Valid {
		min, max := agg.Min.Int64, agg.Max.Int64
		out.MinPageOrder, out.MaxPageOrder = &min, &max
	}
	return out, nil
}

func (s *Store) GetPagedReferenceInfos(ctx context.Context, channelID string, fromPageOrder int64, count int) ([]paging.ReferenceInfo, error) {
	var rows []ReferenceRow
	err := s.db.WithContext(ctx).
		Where("channel_id = ? AND paging_order >= ?", channelID, fromPageOrder).
		Order("paging_order asc").
		Limit(count).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]paging.ReferenceInfo, len(rows))
	for i, r := range rows {
		out[i] = rowToInfo(r)
	}
	return out, nil
}

func (s *Store) GetMessages(ctx context.Context, ids []string) ([]paging.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []MessageBodyRow
	if err := s.db.WithContext(ctx).Where("message_id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	byID := make(map[string][]byte, len(rows))
	for _, r := range rows {
		byID[r.MessageID] = r.Body
	}
	out := make([]paging.Message, len(ids))
	for i, id := range ids {
		out[i] = paging.Message{ID: id, Body: byID[id]}
	}
	return out, nil
}

func (s *Store) PageReferences(ctx context.Context, channelID string, refs []*paging.MessageReference, paged bool) error {
	if len(refs) == 0 {
		return nil
	}
	rows := make([]ReferenceRow, len(refs))
	for i, ref := range refs {
		rows[i] = refToRow(channelID, ref, paged)
	}
	return s.db.WithContext(ctx).Clauses(upsertReferenceClause).Create(&rows).Error
}

func (s *Store) UpdatePageOrder(ctx context.Context, channelID string, refs []*paging.MessageReference) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, ref := range refs {
			row := refToRow(channelID, ref, true)
			if err := tx.Clauses(upsertReferenceClause).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) RemoveDepagedReferences(ctx context.Context, channelID string, infos []paging.ReferenceInfo) error {
	if len(infos) == 0 {
		return nil
	}
	ids := make([]string, len(infos))
	for i, info := range infos {
		ids[i] = info.MessageID
	}
	return s.db.WithContext(ctx).
		Where("channel_id = ? AND message_id IN ?", channelID, ids).
		Delete(&ReferenceRow{}).Error
}

func (s *Store) UpdateReliableReferencesNotPagedInRange(ctx context.Context, channelID string, fromInclusive, toInclusive int64, expectedCount int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&ReferenceRow{}).
			Where("channel_id = ? AND reliable = ? AND paging_order BETWEEN ? AND ?", channelID, true, fromInclusive, toInclusive).
			Count(&count).Error
		if err != nil {
			return err
		}
		if int(count) != expectedCount {
			return paging.ErrStoreCountMismatch
		}
		return tx.Model(&ReferenceRow{}).
			Where("channel_id = ? AND reliable = ? AND paging_order BETWEEN ? AND ?", channelID, true, fromInclusive, toInclusive).
			Update("paging_order", nil).Error
	})
}

func rowToInfo(r ReferenceRow) paging.ReferenceInfo {
	return paging.ReferenceInfo{
		MessageID:     r.MessageID,
		Priority:      r.Priority,
		DeliveryCount: r.DeliveryCount,
		Reliable:      r.Reliable,
		PagingOrder:   r.PagingOrder,
	}
}

func refToRow(channelID string, ref *paging.MessageReference, paged bool) ReferenceRow {
	row := ReferenceRow{
		ChannelID:     channelID,
		MessageID:     ref.MessageID,
		Priority:      ref.Priority,
		DeliveryCount: ref.DeliveryCount,
		Reliable:      ref.Reliable,
	}
	if paged {
		order := ref.PagingOrder
		row.PagingOrder = &order
	}
	return row
}
