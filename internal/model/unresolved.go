package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnresolvedStatus 无主充值状态
type UnresolvedStatus int16

const (
	UnresolvedStatusOpen      UnresolvedStatus = 0 // 待人工处理
	UnresolvedStatusMatched   UnresolvedStatus = 1 // 已人工匹配入账
	UnresolvedStatusDismissed UnresolvedStatus = 2 // 已忽略
)

func (s UnresolvedStatus) String() string {
	switch s {
	case UnresolvedStatusOpen:
		return "OPEN"
	case UnresolvedStatusMatched:
		return "MATCHED"
	case UnresolvedStatusDismissed:
		return "DISMISSED"
	default:
		return "UNKNOWN"
	}
}

// UnresolvedDeposit 无主充值：链上检测到转账但无法归属到任何已知收款地址
// 或绑定钱包，等待管理员人工匹配或忽略。绝不自动入账。
type UnresolvedDeposit struct {
	ID            int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	TxHash        string           `gorm:"type:varchar(128);uniqueIndex;not null" json:"tx_hash"`
	FromAddress   string           `gorm:"type:varchar(64);not null" json:"from_address"`
	ToAddress     string           `gorm:"type:varchar(64);not null" json:"to_address"`
	Amount        decimal.Decimal  `gorm:"type:decimal(30,6);not null" json:"amount"`
	Confirmations int              `gorm:"not null;default:0" json:"confirmations"`
	Reason        string           `gorm:"type:varchar(255);not null" json:"reason"`
	Status        UnresolvedStatus `gorm:"type:smallint;index;not null;default:0" json:"status"`
	CreatedAt     time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UnresolvedDeposit) TableName() string {
	return "unresolved_deposits"
}
