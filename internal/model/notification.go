package model

import "time"

// Notification 用户通知及其推送投递状态。投递字段只由重试工作器修改：
// pending_push=true 且 delivery_attempts < 上限时等待投递；投递成功或
// 达到尝试上限后 pending_push=false（失败原因保留供审计）。
type Notification struct {
	ID               int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           int64      `gorm:"index;not null" json:"user_id"`
	Kind             string     `gorm:"type:varchar(32);not null" json:"kind"`
	Title            string     `gorm:"type:varchar(128);not null" json:"title"`
	Body             string     `gorm:"type:text;not null" json:"body"`
	PendingPush      bool       `gorm:"index;not null;default:true" json:"pending_push"`
	DeliveryAttempts int        `gorm:"not null;default:0" json:"delivery_attempts"`
	LastAttemptAt    *time.Time `json:"last_attempt_at"`
	LastError        string     `gorm:"type:varchar(255);default:''" json:"last_error"`
	DeliveredAt      *time.Time `json:"delivered_at"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}

// PushEndpoint 用户的推送端点。单个端点永久失效时只停用该端点，
// 不影响同一通知向其它端点的投递。
type PushEndpoint struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"index;not null" json:"user_id"`
	URL       string    `gorm:"type:varchar(255);not null" json:"url"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	LastError string    `gorm:"type:varchar(255);default:''" json:"last_error"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (PushEndpoint) TableName() string {
	return "push_endpoints"
}
