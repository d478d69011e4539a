package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"swapscope/internal/model"
)

const publishMaxElapsed = 10 * time.Second

// priceMessage is the wire format of a published price point.
type priceMessage struct {
	AssetUnit      string   `json:"asset_unit"`
	QuoteAssetUnit string   `json:"quote_asset_unit"`
	Provider       string   `json:"provider"`
	Time           uint64   `json:"time"`
	TxHash         string   `json:"tx_hash"`
	SwapIndex      uint32   `json:"swap_index"`
	Price          float64  `json:"price"`
	Amount1        string   `json:"amount1"`
	Amount2        string   `json:"amount2"`
	Operation      int      `json:"operation"`
	Outlier        *bool    `json:"outlier,omitempty"`
}

// Kafka publishes price points to a Kafka topic. Messages are keyed by
// asset unit so one asset's prices stay ordered within a partition.
type Kafka struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafka(brokers []string, topic string, logger *zap.Logger) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &Kafka{writer: writer, logger: logger}, nil
}

// PublishPrice sends one price point, retrying transient failures with
// exponential backoff.
func (k *Kafka) PublishPrice(ctx context.Context, price model.Price) error {
	data, err := json.Marshal(priceMessage{
		AssetUnit:      price.AssetUnit,
		QuoteAssetUnit: price.QuoteAssetUnit,
		Provider:       price.Provider,
		Time:           price.Time,
		TxHash:         price.TxHash,
		SwapIndex:      price.SwapIndex,
		Price:          price.Price,
		Amount1:        fmt.Sprintf("%d", price.Amount1),
		Amount2:        fmt.Sprintf("%d", price.Amount2),
		Operation:      int(price.Operation),
		Outlier:        price.Outlier,
	})
	if err != nil {
		return fmt.Errorf("marshal price: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(price.AssetUnit),
		Value: data,
		Time:  time.Now(),
	}

	operation := func() (struct{}, error) {
		if err := k.writer.WriteMessages(ctx, message); err != nil {
			k.logger.Warn("kafka write failed",
				zap.String("asset", price.AssetUnit),
				zap.String("tx", price.TxHash),
				zap.Error(err),
			)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}
	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(publishMaxElapsed),
	)
	if err != nil {
		return fmt.Errorf("publish price for %s: %w", price.AssetUnit, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
