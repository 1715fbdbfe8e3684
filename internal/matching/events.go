package matching

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/orbitcex/exchange-core/internal/orderbook"
)

// Standard event topics, matching the TopicTrade-style constant naming
// of internal/trading/events/event_types.go but published over
// a real kafka-go writer instead of an in-process fan-out bus, since
// trade/liquidation events need to reach consumers outside this process
// (risk, settlement reporting, market-data fanout).
const (
	TopicTrade       = "trade"
	TopicOrder       = "order"
	TopicLiquidation = "liquidation"
)

// TradeEvent is published for every trade execution.
type TradeEvent struct {
	TradeID     string    `json:"trade_id"`
	Symbol      string    `json:"symbol"`
	Price       string    `json:"price"`
	Quantity    string    `json:"quantity"`
	MakerUserID string    `json:"maker_user_id"`
	TakerUserID string    `json:"taker_user_id"`
	Ts          time.Time `json:"ts"`
}

// OrderEvent is published with the report of every order that goes
// through matching, whatever its resulting status (filled, partially
// filled, cancelled, or accepted to rest); rejected, post-only and
// parked trigger orders are not published.
type OrderEvent struct {
	OrderID  string `json:"order_id"`
	UserID   string `json:"user_id"`
	Symbol   string `json:"symbol"`
	Status   string `json:"status"`
	FilledQty string `json:"filled_qty"`
	Ts       time.Time `json:"ts"`
}

// EventPublisher wraps a kafka-go Writer for trade/order/liquidation
// event publication. A nil *EventPublisher is valid and every Publish*
// call becomes a no-op, so tests and single-process deployments can
// skip wiring a broker.
type EventPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewEventPublisher builds a publisher against the given Kafka brokers.
// The writer balances across partitions by key (symbol), so all trades
// for one symbol land on one partition and preserve arrival order.
func NewEventPublisher(brokers []string, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Balancer: &kafka.Hash{},
		},
		logger: logger,
	}
}

func (p *EventPublisher) publish(ctx context.Context, topic, key string, v interface{}) {
	if p == nil || p.writer == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("failed to encode event", zap.Error(err), zap.String("topic", topic))
		return
	}
	msg := kafka.Message{Topic: topic, Key: []byte(key), Value: data}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish event", zap.Error(err), zap.String("topic", topic))
	}
}

func (p *EventPublisher) PublishTrade(ctx context.Context, symbol string, t orderbook.Trade) {
	p.publish(ctx, TopicTrade, symbol, TradeEvent{
		TradeID:     t.ID.String(),
		Symbol:      symbol,
		Price:       t.Price.String(),
		Quantity:    t.Quantity.String(),
		MakerUserID: t.MakerUserID.String(),
		TakerUserID: t.TakerUserID.String(),
		Ts:          time.Now(),
	})
}

func (p *EventPublisher) PublishOrder(ctx context.Context, symbol string, report *OrderReport, userID string) {
	p.publish(ctx, TopicOrder, symbol, OrderEvent{
		OrderID:   report.OrderID.String(),
		UserID:    userID,
		Symbol:    symbol,
		Status:    string(report.Status),
		FilledQty: report.FilledQuantity.String(),
		Ts:        time.Now(),
	})
}

// Close flushes and closes the underlying writer.
func (p *EventPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
