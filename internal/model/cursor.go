package model

import "time"

// ScannerCursor 扫描游标：记录某个逻辑扫描器已完整处理到的区块高度。
// last_block 单调不减，只有区块窗口完整处理无误后才允许前移。
type ScannerCursor struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ScannerID string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"scanner_id"`
	LastBlock uint64    `gorm:"not null" json:"last_block"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ScannerCursor) TableName() string {
	return "scanner_cursors"
}
