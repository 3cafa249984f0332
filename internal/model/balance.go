package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserBalance 用户内部代币余额。balance 与 total_earned 只允许在
// 入账引擎的事务内递增，保证与 approved 入账记录之和一致。
type UserBalance struct {
	UserID      int64           `gorm:"primaryKey" json:"user_id"`
	Balance     decimal.Decimal `gorm:"type:decimal(30,6);not null;default:0" json:"balance"`
	TotalEarned decimal.Decimal `gorm:"type:decimal(30,6);not null;default:0" json:"total_earned"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserBalance) TableName() string {
	return "user_balances"
}

// Activity 用户行为流水，写入失败不影响主流程。
type Activity struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      int64     `gorm:"index;not null" json:"user_id"`
	Kind        string    `gorm:"type:varchar(32);not null" json:"kind"`
	Description string    `gorm:"type:varchar(255);not null" json:"description"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Activity) TableName() string {
	return "activities"
}
