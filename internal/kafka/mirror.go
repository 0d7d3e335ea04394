package kafka

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/route-beacon/mrt-replay/internal/bmp"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"go.uber.org/zap"
)

const flushTimeout = 5 * time.Second

// Mirror publishes every BMP message as an OpenBMP RAW v2 frame so
// Kafka-based OpenBMP consumers can ingest the replay in parallel with
// the TCP collector. Publication is asynchronous; a broker outage never
// stalls the collector path.
type Mirror struct {
	client *kgo.Client
	topic  string
	hash   uint32
	logger *zap.Logger
}

func NewMirror(brokers []string, topic, clientID, collectorName string, tlsCfg *tls.Config, saslMech sasl.Mechanism, logger *zap.Logger) (*Mirror, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.DefaultProduceTopic(topic),
	}
	if tlsCfg != nil {
		opts = append(opts, kgo.DialTLSConfig(tlsCfg))
	}
	if saslMech != nil {
		opts = append(opts, kgo.SASL(saslMech))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}

	return &Mirror{
		client: client,
		topic:  topic,
		hash:   bmp.CollectorHash(collectorName),
		logger: logger,
	}, nil
}

// Publish frames and produces one BMP message. Delivery errors are logged
// and dropped; the mirror is best-effort by design.
func (m *Mirror) Publish(msg []byte) {
	rec := &kgo.Record{
		Topic: m.topic,
		Value: bmp.EncodeOpenBMPFrame(m.hash, msg),
	}
	m.client.TryProduce(context.Background(), rec, func(_ *kgo.Record, err error) {
		if err != nil {
			m.logger.Warn("mirror publish failed", zap.Error(err))
		}
	})
}

// Close flushes pending records and releases the client.
func (m *Mirror) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := m.client.Flush(ctx); err != nil {
		m.logger.Warn("mirror flush incomplete", zap.Error(err))
	}
	m.client.Close()
}
