package storage

import (
	"context"
	"testing"

	"github.com/richardliu001/wallet-ledger/internal/config"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionalBackends(t *testing.T) {
	rdb, err := OpenRedis(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, rdb)

	assert.Nil(t, NewKafkaWriter(config.KafkaConfig{}))
}

func TestNewKafkaWriter_KeyedPartitioning(t *testing.T) {
	w := NewKafkaWriter(config.KafkaConfig{Brokers: []string{"b1:9092", "b2:9092"}, Topic: "wallet.balance"})
	require.NotNil(t, w)
	assert.Equal(t, "wallet.balance", w.Topic)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
}
