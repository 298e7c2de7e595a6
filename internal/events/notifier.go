// Copyright (C) 2025-2026 ChronoLake, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package events

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
)

// NotifierConfig configures the Kafka writer behind a Notifier.
type NotifierConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration

	// SASL/SCRAM authentication
	SASLMechanism sasl.Mechanism

	// TLS configuration
	TLSConfig *tls.Config
}

// Notifier publishes CompactionDone events to a single topic. Messages are
// keyed by partition id, so one partition's events stay ordered.
type Notifier struct {
	writer *kafka.Writer
}

func NewNotifier(cfg NotifierConfig) *Notifier {
	if cfg.Topic == "" {
		cfg.Topic = "chronolake.compaction.done"
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}

	transport := &kafka.Transport{
		SASL: cfg.SASLMechanism,
		TLS:  cfg.TLSConfig,
	}

	return &Notifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: cfg.BatchTimeout,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		},
	}
}

func (n *Notifier) NotifyDone(ctx context.Context, event CompactionDone) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal compaction done event: %w", err)
	}
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(event.PartitionID, 10)),
		Value: value,
	})
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}
