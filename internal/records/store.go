// Package records persists payment history and serves it to the monitor.
package records

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"paylink.io/internal/monitor"
	"paylink.io/pkg/orm"
	"paylink.io/pkg/xerr"
)

type txKey struct{}

type Store struct {
	db *gorm.DB
}

var _ monitor.Query = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&PaymentRecord{})
}

// Transaction runs fn with a transaction carried in its context.
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func (s *Store) getDb(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return s.db.WithContext(ctx)
}

// Create inserts a new record; OwnerIDs are normalized.
func (s *Store) Create(ctx context.Context, r *PaymentRecord) error {
	r.ToOwnerID = OwnerID(r.ToOwnerID)
	if r.Status == "" {
		r.Status = monitor.StatusPending
	}
	if err := s.getDb(ctx).Create(r).Error; err != nil {
		return xerr.Wrap(err, xerr.DbError, "")
	}
	return nil
}

// UpsertCompleted inserts r as completed or completes the existing record
// with the same tx hash. A record keeps its first completion time when the
// same transfer is seen again.
func (s *Store) UpsertCompleted(ctx context.Context, r *PaymentRecord) error {
	now := time.Now()
	r.ToOwnerID = OwnerID(r.ToOwnerID)
	r.Status = monitor.StatusCompleted
	r.CompletedAt = &now
	updates := append(clause.AssignmentColumns([]string{"status", "block_number", "updated_at"}),
		clause.Assignment{Column: clause.Column{Name: "completed_at"}, Value: firstCompletion(now)})
	err := s.getDb(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tx_hash"}},
		DoUpdates: updates,
	}).Create(r).Error
	if err != nil {
		return xerr.Wrap(err, xerr.DbError, "")
	}
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, txHash, status string) error {
	fields := map[string]interface{}{"status": status}
	if status == monitor.StatusCompleted {
		fields["completed_at"] = firstCompletion(time.Now())
	}
	res := s.getDb(ctx).Model(&PaymentRecord{}).Where("tx_hash = ?", txHash).Updates(fields)
	if res.Error != nil {
		return xerr.Wrap(res.Error, xerr.DbError, "")
	}
	if res.RowsAffected == 0 {
		return xerr.NewErrCode(xerr.RecordNotFound)
	}
	return nil
}

func firstCompletion(now time.Time) clause.Expr {
	return gorm.Expr("COALESCE(completed_at, ?)", now)
}

func (s *Store) GetByTxHash(ctx context.Context, txHash string) (*PaymentRecord, error) {
	var r PaymentRecord
	err := s.getDb(ctx).Where("tx_hash = ?", txHash).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, xerr.NewErrCode(xerr.RecordNotFound)
	}
	if err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "")
	}
	return &r, nil
}

// ListByOwner returns records received by owner, newest first.
func (s *Store) ListByOwner(ctx context.Context, owner string, limit int) ([]PaymentRecord, error) {
	return s.list(ctx, "to_owner_id = ?", OwnerID(owner), limit)
}

// ListBySender returns records sent from address, newest first.
func (s *Store) ListBySender(ctx context.Context, address string, limit int) ([]PaymentRecord, error) {
	return s.list(ctx, "from_address = ?", OwnerID(address), limit)
}

func (s *Store) list(ctx context.Context, where string, arg string, limit int) ([]PaymentRecord, error) {
	if arg == "" {
		return []PaymentRecord{}, nil
	}
	var rows []PaymentRecord
	q := s.getDb(ctx).Where(where, arg).Order("id DESC")
	if err := orm.Limit(q, limit).Find(&rows).Error; err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "")
	}
	return rows, nil
}

func (s *Store) QueryRecent(ctx context.Context, ownerID string, limit int) ([]monitor.Record, error) {
	rows, err := s.ListByOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]monitor.Record, len(rows))
	for i, r := range rows {
		out[i] = r.toMonitor()
	}
	return out, nil
}
