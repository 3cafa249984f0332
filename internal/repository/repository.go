package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrCursorNotFound  = errors.New("scanner cursor not found")
	ErrAccountNotFound = errors.New("deposit account not found")
	ErrEntryNotFound   = errors.New("ledger entry not found")
	ErrDuplicateEntry  = errors.New("duplicate ledger entry")
)

// Pagination 分页参数
type Pagination struct {
	Page     int
	PageSize int
	Total    int64
}

func (p *Pagination) Normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = 20
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
}

func (p *Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// isDuplicateKeyError 判断是否为唯一约束冲突
// PostgreSQL duplicate key error code: 23505
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "23505")
}
