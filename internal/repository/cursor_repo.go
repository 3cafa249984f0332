package repository

import (
	"context"
	"errors"

	"usdt-credit/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CursorRepository 扫描游标仓储。游标只归扫描器所有。
type CursorRepository interface {
	Get(ctx context.Context, scannerID string) (*model.ScannerCursor, error)
	Save(ctx context.Context, scannerID string, lastBlock uint64) error
}

type cursorRepository struct {
	db *gorm.DB
}

func NewCursorRepository(db *gorm.DB) CursorRepository {
	return &cursorRepository{db: db}
}

func (r *cursorRepository) Get(ctx context.Context, scannerID string) (*model.ScannerCursor, error) {
	var cursor model.ScannerCursor
	err := r.db.WithContext(ctx).Where("scanner_id = ?", scannerID).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCursorNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cursor, nil
}

// Save 推进游标。GREATEST 兜底保证 last_block 单调不减，
// 即使出现并发的落后写入也不会让游标倒退。
func (r *cursorRepository) Save(ctx context.Context, scannerID string, lastBlock uint64) error {
	cursor := &model.ScannerCursor{
		ScannerID: scannerID,
		LastBlock: lastBlock,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "scanner_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_block": gorm.Expr("GREATEST(scanner_cursors.last_block, EXCLUDED.last_block)"),
		}),
	}).Create(cursor).Error
}
