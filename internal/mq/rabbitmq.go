package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	// 入账事件拓扑
	CreditExchange   = "deposit.notify.exchange"
	CreditQueue      = "deposit.notify.queue"
	CreditRoutingKey = "deposit.credited"

	// 重连配置
	reconnectDelay = 3 * time.Second
)

// DepositCreditedMessage 入账成功后发布的事件消息
type DepositCreditedMessage struct {
	DepositID      string `json:"deposit_id"`
	UserID         int64  `json:"user_id"`
	TxHash         string `json:"tx_hash"`
	GrossAmount    string `json:"gross_amount"`
	CreditedAmount string `json:"credited_amount"`
	Confirmations  int    `json:"confirmations"`
	Timestamp      int64  `json:"timestamp"`
}

// RabbitMQ 封装（支持自动重连）。发布是入账事务提交之后的尽力而为，
// 发布失败绝不回滚入账。
type RabbitMQ struct {
	url    string
	logger *zap.Logger

	conn    *amqp.Connection
	channel *amqp.Channel

	mu          sync.RWMutex
	isConnected bool
	done        chan struct{}
}

// NewRabbitMQ 创建连接并声明拓扑
func NewRabbitMQ(url string, logger *zap.Logger) (*RabbitMQ, error) {
	r := &RabbitMQ{
		url:    url,
		logger: logger,
		done:   make(chan struct{}),
	}

	if err := r.connect(); err != nil {
		return nil, err
	}

	go r.monitorConnection()

	return r, nil
}

func (r *RabbitMQ) connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := amqp.Dial(r.url)
	if err != nil {
		return fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("打开 Channel 失败: %w", err)
	}

	r.conn = conn
	r.channel = ch
	r.isConnected = true

	if err := r.declareTopology(); err != nil {
		ch.Close()
		conn.Close()
		r.isConnected = false
		return err
	}

	r.logger.Info("RabbitMQ 连接成功")
	return nil
}

// monitorConnection 监控连接状态，断开时自动重连
func (r *RabbitMQ) monitorConnection() {
	for {
		select {
		case <-r.done:
			return
		default:
		}

		r.mu.RLock()
		conn := r.conn
		r.mu.RUnlock()

		if conn == nil {
			time.Sleep(reconnectDelay)
			continue
		}

		notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-r.done:
			return
		case err := <-notifyClose:
			if err != nil {
				r.logger.Warn("RabbitMQ 连接断开", zap.Error(err))
			}

			r.mu.Lock()
			r.isConnected = false
			r.mu.Unlock()

			r.reconnect()
		}
	}
}

func (r *RabbitMQ) reconnect() {
	attempt := 0
	for {
		select {
		case <-r.done:
			return
		default:
		}

		attempt++
		r.logger.Info("RabbitMQ 尝试重连", zap.Int("attempt", attempt))

		if err := r.connect(); err != nil {
			r.logger.Warn("RabbitMQ 重连失败", zap.Error(err))
			time.Sleep(reconnectDelay)
			continue
		}

		r.logger.Info("RabbitMQ 重连成功")
		return
	}
}

func (r *RabbitMQ) declareTopology() error {
	if err := r.channel.ExchangeDeclare(CreditExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("声明 CreditExchange 失败: %w", err)
	}

	if _, err := r.channel.QueueDeclare(CreditQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("声明 CreditQueue 失败: %w", err)
	}

	if err := r.channel.QueueBind(CreditQueue, CreditRoutingKey, CreditExchange, false, nil); err != nil {
		return fmt.Errorf("绑定 CreditQueue 失败: %w", err)
	}

	return nil
}

// IsConnected 检查是否已连接
func (r *RabbitMQ) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isConnected
}

// PublishCredited 发布入账成功事件
func (r *RabbitMQ) PublishCredited(msg *DepositCreditedMessage) error {
	r.mu.RLock()
	if !r.isConnected {
		r.mu.RUnlock()
		return fmt.Errorf("RabbitMQ 未连接")
	}
	ch := r.channel
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return ch.PublishWithContext(ctx, CreditExchange, CreditRoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
	})
}

// Close 关闭连接
func (r *RabbitMQ) Close() {
	close(r.done)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			r.logger.Warn("关闭 RabbitMQ channel 失败", zap.Error(err))
		}
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			r.logger.Warn("关闭 RabbitMQ 连接失败", zap.Error(err))
		}
	}
	r.isConnected = false
}
