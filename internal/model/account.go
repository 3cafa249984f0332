package model

import "time"

// DepositAccount 用户充值账户：每个用户分配一个唯一的派生索引和收款地址。
// 一旦分配，(derivation_index, address) 永不变更，链上打到该地址的资金
// 必须永远归属同一用户。
type DepositAccount struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	DerivationIndex int64     `gorm:"uniqueIndex;not null" json:"derivation_index"`
	Address         string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"address"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (DepositAccount) TableName() string {
	return "deposit_accounts"
}

// LinkedWallet 用户绑定的外部钱包地址，用于自报交易时验证发起方身份。
type LinkedWallet struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"index;not null" json:"user_id"`
	Address   string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"address"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (LinkedWallet) TableName() string {
	return "linked_wallets"
}
