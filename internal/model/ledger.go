package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntryStatus 入账记录状态
type LedgerEntryStatus int16

const (
	LedgerStatusPending  LedgerEntryStatus = 0 // 待确认
	LedgerStatusApproved LedgerEntryStatus = 1 // 已入账
	LedgerStatusRejected LedgerEntryStatus = 2 // 已驳回
)

func (s LedgerEntryStatus) String() string {
	switch s {
	case LedgerStatusPending:
		return "PENDING"
	case LedgerStatusApproved:
		return "APPROVED"
	case LedgerStatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// LedgerEntry 充值入账记录。tx_hash 全局唯一，是整条入账链路的幂等键：
// 同一笔链上交易最多存在一条 approved 记录。
type LedgerEntry struct {
	ID             int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	DepositID      string            `gorm:"type:varchar(64);not null" json:"deposit_id"`
	UserID         int64             `gorm:"index;not null" json:"user_id"`
	TxHash         string            `gorm:"type:varchar(128);uniqueIndex;not null" json:"tx_hash"`
	FromAddress    string            `gorm:"type:varchar(64);not null" json:"from_address"`
	ToAddress      string            `gorm:"type:varchar(64);not null" json:"to_address"`
	GrossAmount    decimal.Decimal   `gorm:"type:decimal(30,6);not null" json:"gross_amount"`
	CreditedAmount decimal.Decimal   `gorm:"type:decimal(30,6);not null" json:"credited_amount"`
	Confirmations  int               `gorm:"not null;default:0" json:"confirmations"`
	BlockNumber    uint64            `gorm:"not null;default:0" json:"block_number"`
	Status         LedgerEntryStatus `gorm:"type:smallint;index;not null;default:0" json:"status"`
	Verified       bool              `gorm:"not null;default:false" json:"verified"`
	CreatedAt      time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}
