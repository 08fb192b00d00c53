package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupoints/internal/quota/domain"
	pkgdb "github.com/smallbiznis/edupoints/pkg/db"
	"github.com/smallbiznis/edupoints/pkg/db/pagination"
	"gorm.io/gorm"
)

type ledgerStore struct{}

func ProvideLedgerStore() domain.LedgerStore {
	return &ledgerStore{}
}

func (r *ledgerStore) Append(ctx context.Context, tx *gorm.DB, entry *domain.LedgerEntry) error {
	if entry == nil || entry.ID == 0 {
		return domain.ErrInvalidUsage
	}
	err := tx.WithContext(ctx).Create(entry).Error
	if err != nil && entry.ReversalOf != nil && pkgdb.IsDuplicateKeyErr(err) {
		return domain.ErrAlreadyReversed
	}
	return wrapErr("append_ledger", err)
}

func (r *ledgerStore) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	err := db.WithContext(ctx).Where("id = ?", id).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrEntryNotFound
	}
	if err != nil {
		return nil, wrapErr("find_ledger_entry", err)
	}
	return &entry, nil
}

func (r *ledgerStore) FindReversal(ctx context.Context, db *gorm.DB, originalID snowflake.ID) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	err := db.WithContext(ctx).Where("reversal_of = ?", originalID).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("find_reversal", err)
	}
	return &entry, nil
}

// List returns up to page.Limit()+1 entries, newest first, so the caller
// can tell whether another page exists.
func (r *ledgerStore) List(ctx context.Context, db *gorm.DB, filter domain.LedgerFilter, page pagination.Pagination) ([]*domain.LedgerEntry, error) {
	if !filter.Scope.Valid() {
		return nil, domain.ErrInvalidScope
	}

	stmt := db.WithContext(ctx).
		Model(&domain.LedgerEntry{}).
		Where("scope_type = ? AND scope_id = ?", filter.Scope.Type, filter.Scope.ID)
	if filter.Kind != nil {
		stmt = stmt.Where("kind = ?", *filter.Kind)
	}

	if page.PageToken != "" {
		createdAt, id, err := decodeLedgerCursor(page.PageToken)
		if err != nil {
			return nil, err
		}
		stmt = stmt.Where("((created_at < ?) OR (created_at = ? AND id < ?))", createdAt, createdAt, id)
	}

	var entries []*domain.LedgerEntry
	err := stmt.
		Order("created_at desc, id desc").
		Limit(page.Limit() + 1).
		Find(&entries).Error
	if err != nil {
		return nil, wrapErr("list_ledger", err)
	}
	return entries, nil
}

func decodeLedgerCursor(token string) (time.Time, snowflake.ID, error) {
	cursor, err := pagination.DecodeCursor(token)
	if err != nil {
		return time.Time{}, 0, domain.ErrInvalidPageToken
	}
	createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
	if err != nil {
		return time.Time{}, 0, domain.ErrInvalidPageToken
	}
	id, err := strconv.ParseInt(cursor.ID, 10, 64)
	if err != nil || id <= 0 {
		return time.Time{}, 0, domain.ErrInvalidPageToken
	}
	return createdAt.UTC(), snowflake.ID(id), nil
}
