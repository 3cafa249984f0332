package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"usdt-credit/internal/model"
	"usdt-credit/internal/repository"

	"go.uber.org/zap"
)

// MaxDeliveryAttempts 投递尝试上限，达到后永久放弃
const MaxDeliveryAttempts = 6

// backoffSchedule 重试退避表：首次立即，之后按分钟级递增
var backoffSchedule = []time.Duration{
	0,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	60 * time.Minute,
	120 * time.Minute,
}

// DelayFor 第 attempt 次尝试前应等待的时长（纯函数，越界取表尾）
func DelayFor(attempt int) time.Duration {
	if attempt < 0 {
		return 0
	}
	if attempt >= len(backoffSchedule) {
		return backoffSchedule[len(backoffSchedule)-1]
	}
	return backoffSchedule[attempt]
}

// ErrEndpointGone 端点永久失效（应停用，而不是无限重试）
var ErrEndpointGone = errors.New("push endpoint gone")

// PushTransport 外部推送通道
type PushTransport interface {
	Send(ctx context.Context, endpoint string, payload []byte) error
}

// pushPayload 推送消息体
type pushPayload struct {
	NotificationID int64  `json:"notification_id"`
	Kind           string `json:"kind"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	CreatedAt      int64  `json:"created_at"`
}

// NotifyService 通知投递重试工作器：定时扫描未投递的通知，按退避表
// 重试，端点间故障互相隔离。与扫描器一样单实例自斥。
type NotifyService struct {
	repo      repository.NotificationRepository
	transport PushTransport
	interval  time.Duration

	// 可注入时钟，退避判定可脱离墙钟测试
	now func() time.Time

	mu      sync.Mutex
	running bool

	logger *zap.Logger
}

func NewNotifyService(repo repository.NotificationRepository, transport PushTransport, intervalSec int, logger *zap.Logger) *NotifyService {
	return &NotifyService{
		repo:      repo,
		transport: transport,
		interval:  time.Duration(intervalSec) * time.Second,
		now:       time.Now,
		logger:    logger,
	}
}

// Start 启动重试循环，直到 ctx 取消
func (s *NotifyService) Start(ctx context.Context) {
	s.logger.Info("通知重试工作器已启动", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("通知重试工作器已停止")
			return
		case <-ticker.C:
			if err := s.RunRetryPass(ctx); err != nil {
				s.logger.Warn("本轮重试失败", zap.Error(err))
			}
		}
	}
}

// RunRetryPass 执行一轮投递：退避时间未到的跳过，其余逐条尝试
func (s *NotifyService) RunRetryPass(ctx context.Context) error {
	if !s.tryBegin() {
		s.logger.Debug("上一轮投递仍在进行，跳过本轮")
		return nil
	}
	defer s.end()

	tasks, err := s.repo.ListPendingPush(ctx, MaxDeliveryAttempts, 100)
	if err != nil {
		return fmt.Errorf("查询待投递通知失败: %w", err)
	}

	now := s.now()
	for _, task := range tasks {
		if !Due(task, now) {
			continue
		}
		s.attempt(ctx, task, now)
	}
	return nil
}

// Due 判断任务是否已过当前尝试的退避时间（纯函数）
func Due(task *model.Notification, now time.Time) bool {
	if task.LastAttemptAt == nil {
		return true
	}
	return now.Sub(*task.LastAttemptAt) >= DelayFor(task.DeliveryAttempts)
}

// attempt 对所有活跃端点尝试投递一条通知。单端点失败互不影响；
// 任一端点成功即视为已投递。
func (s *NotifyService) attempt(ctx context.Context, task *model.Notification, now time.Time) {
	endpoints, err := s.repo.ListActiveEndpoints(ctx, task.UserID)
	if err != nil {
		s.logger.Warn("查询推送端点失败", zap.Int64("notification_id", task.ID), zap.Error(err))
		return
	}

	payload, err := json.Marshal(pushPayload{
		NotificationID: task.ID,
		Kind:           task.Kind,
		Title:          task.Title,
		Body:           task.Body,
		CreatedAt:      task.CreatedAt.Unix(),
	})
	if err != nil {
		s.logger.Error("序列化推送消息失败", zap.Int64("notification_id", task.ID), zap.Error(err))
		return
	}

	delivered := false
	lastErr := "无可用推送端点"
	for _, ep := range endpoints {
		err := s.transport.Send(ctx, ep.URL, payload)
		if err == nil {
			delivered = true
			continue
		}

		lastErr = err.Error()
		if errors.Is(err, ErrEndpointGone) {
			// 永久失效的端点直接停用，避免拖累后续投递
			if derr := s.repo.DeactivateEndpoint(ctx, ep.ID, lastErr); derr != nil {
				s.logger.Warn("停用端点失败", zap.Int64("endpoint_id", ep.ID), zap.Error(derr))
			} else {
				s.logger.Info("推送端点已停用", zap.Int64("endpoint_id", ep.ID), zap.String("url", ep.URL))
			}
			continue
		}
		s.logger.Warn("端点投递失败",
			zap.Int64("notification_id", task.ID),
			zap.String("url", ep.URL),
			zap.Error(err))
	}

	if delivered {
		if err := s.repo.MarkDelivered(ctx, task.ID, now); err != nil {
			s.logger.Warn("标记已投递失败", zap.Int64("notification_id", task.ID), zap.Error(err))
		}
		return
	}

	attempts := task.DeliveryAttempts + 1
	abandoned := attempts >= MaxDeliveryAttempts
	if err := s.repo.MarkAttemptFailed(ctx, task.ID, attempts, now, lastErr, abandoned); err != nil {
		s.logger.Warn("记录失败尝试失败", zap.Int64("notification_id", task.ID), zap.Error(err))
		return
	}
	if abandoned {
		s.logger.Warn("通知投递已放弃",
			zap.Int64("notification_id", task.ID),
			zap.Int("attempts", attempts),
			zap.String("last_error", lastErr))
	}
}

func (s *NotifyService) tryBegin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *NotifyService) end() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}
