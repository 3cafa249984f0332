package repository

import (
	"context"
	"time"

	"usdt-credit/internal/model"

	"gorm.io/gorm"
)

// NotificationRepository 通知与投递任务仓储。投递状态字段只归
// 重试工作器修改，通知本体由任意发起方创建。
type NotificationRepository interface {
	Create(ctx context.Context, n *model.Notification) error
	ListPendingPush(ctx context.Context, maxAttempts, limit int) ([]*model.Notification, error)
	MarkDelivered(ctx context.Context, id int64, at time.Time) error
	// MarkAttemptFailed 记录一次失败尝试；abandoned=true 时同时终止投递
	MarkAttemptFailed(ctx context.Context, id int64, attempts int, at time.Time, reason string, abandoned bool) error
	ListActiveEndpoints(ctx context.Context, userID int64) ([]*model.PushEndpoint, error)
	DeactivateEndpoint(ctx context.Context, id int64, reason string) error
}

type notificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *notificationRepository) ListPendingPush(ctx context.Context, maxAttempts, limit int) ([]*model.Notification, error) {
	var list []*model.Notification
	err := r.db.WithContext(ctx).
		Where("pending_push = ? AND delivery_attempts < ?", true, maxAttempts).
		Order("created_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func (r *notificationRepository) MarkDelivered(ctx context.Context, id int64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"pending_push": false,
			"delivered_at": at,
		}).Error
}

func (r *notificationRepository) MarkAttemptFailed(ctx context.Context, id int64, attempts int, at time.Time, reason string, abandoned bool) error {
	updates := map[string]interface{}{
		"delivery_attempts": attempts,
		"last_attempt_at":   at,
		"last_error":        reason,
	}
	if abandoned {
		// 达到尝试上限：永久放弃，失败原因保留供审计
		updates["pending_push"] = false
	}
	return r.db.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *notificationRepository) ListActiveEndpoints(ctx context.Context, userID int64) ([]*model.PushEndpoint, error) {
	var endpoints []*model.PushEndpoint
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Find(&endpoints).Error
	return endpoints, err
}

func (r *notificationRepository) DeactivateEndpoint(ctx context.Context, id int64, reason string) error {
	return r.db.WithContext(ctx).Model(&model.PushEndpoint{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"active":     false,
			"last_error": reason,
		}).Error
}
