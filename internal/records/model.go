package records

import (
	"strings"
	"time"

	"paylink.io/internal/monitor"
)

type PaymentRecord struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement"`
	TxHash         string `gorm:"type:varchar(80);uniqueIndex;not null"`
	FromAddress    string `gorm:"type:varchar(64);index"`
	ToAddress      string `gorm:"type:varchar(64)"`
	ToOwnerID      string `gorm:"type:varchar(64);index"`
	FromDisplay    string `gorm:"type:varchar(64)"`
	TokenSymbol    string `gorm:"type:varchar(16)"`
	Amount         string `gorm:"type:varchar(80)"` // human units
	Status         string `gorm:"type:varchar(16);index"`
	Description    string `gorm:"type:varchar(255)"`
	IdempotencyKey string `gorm:"type:varchar(128);index"`
	BlockNumber    uint64
	// CompletedAt is set once, when the record first reaches completed.
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (PaymentRecord) TableName() string { return "payment_records" }

// OwnerID is how records address an account: its lower-case address.
func OwnerID(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func (r PaymentRecord) toMonitor() monitor.Record {
	return monitor.Record{
		ID:          r.ID,
		ToOwnerID:   r.ToOwnerID,
		Status:      r.Status,
		TokenSymbol: r.TokenSymbol,
		Amount:      r.Amount,
		CreatedAt:   r.CreatedAt,
		CompletedAt: completedAt(r.CompletedAt),
		FromDisplay: r.FromDisplay,
		TxHash:      r.TxHash,
	}
}

func completedAt(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
