package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/daytrader-api/internal/audit"
	"github.com/ksred/daytrader-api/internal/audit/audittest"
)

func TestLoggerStampsEvents(t *testing.T) {
	log, rec := audittest.NewLog()
	ctx := audit.WithTransactionNum(context.Background(), "42")

	log.InsertUserCommand(ctx, audit.CmdBuy, "alice", "ABC", decimal.NewFromInt(100))
	log.InsertErrorEvent(ctx, audit.CmdCommitBuy, "alice", "", decimal.Zero, "no pending buy")

	events := rec.Events()
	require.Len(t, events, 2)

	cmd := events[0]
	assert.NotEmpty(t, cmd.ID)
	assert.Equal(t, audit.UserCommandEvent, cmd.Type)
	assert.Equal(t, "test", cmd.Server)
	assert.Equal(t, "42", cmd.TransactionNum)
	assert.Equal(t, "100.00", cmd.Funds)
	assert.Equal(t, "ABC", cmd.StockSymbol)

	errEvent := events[1]
	assert.Equal(t, audit.ErrorEventEvent, errEvent.Type)
	assert.Empty(t, errEvent.Funds)
	assert.Equal(t, "no pending buy", errEvent.ErrorMessage)
	assert.NotEqual(t, cmd.ID, errEvent.ID)
}

func TestAsyncSinkDrainsOnClose(t *testing.T) {
	rec := &audittest.Recorder{}
	sink := audit.NewAsyncSink(rec, 16, nil)
	log := audit.New("test", sink)

	for i := 0; i < 10; i++ {
		log.InsertAccountTransaction(context.Background(), audit.ActionAdd, "bob", decimal.NewFromInt(int64(i+1)))
	}
	require.NoError(t, sink.Close())

	assert.Len(t, rec.Events(), 10)
	// Writes after close are dropped, not panics
	log.InsertAccountTransaction(context.Background(), audit.ActionAdd, "bob", decimal.NewFromInt(1))
	assert.Len(t, rec.Events(), 10)
}

type blockingSink struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	written atomic.Int32
}

func (b *blockingSink) Write(context.Context, audit.Event) error {
	b.once.Do(func() { close(b.started) })
	<-b.release
	b.written.Add(1)
	return nil
}

func (b *blockingSink) Close() error { return nil }

func TestAsyncSinkDropsWhenFull(t *testing.T) {
	next := &blockingSink{started: make(chan struct{}), release: make(chan struct{})}
	var dropped atomic.Int32
	sink := audit.NewAsyncSink(next, 1, func(audit.Event) { dropped.Add(1) })

	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, audit.Event{ID: "1"}))
	<-next.started

	require.NoError(t, sink.Write(ctx, audit.Event{ID: "2"}))
	require.NoError(t, sink.Write(ctx, audit.Event{ID: "3"}))
	assert.Equal(t, int32(1), dropped.Load())

	close(next.release)
	require.NoError(t, sink.Close())
	assert.Equal(t, int32(2), next.written.Load())
}

func TestKafkaSinkPublishesJSON(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var event audit.Event
		if err := json.Unmarshal(val, &event); err != nil {
			return err
		}
		if event.Type != audit.SystemEventEvent || event.Username != "carol" {
			return errors.New("unexpected event payload")
		}
		return nil
	})

	sink := audit.NewKafkaSinkWithProducer(producer, "daytrader.audit")
	err := sink.Write(context.Background(), audit.Event{
		ID:       "01",
		Type:     audit.SystemEventEvent,
		Username: "carol",
	})
	require.NoError(t, err)
	require.NoError(t, sink.Close())
}

func TestKafkaSinkReportsFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sink := audit.NewKafkaSinkWithProducer(producer, "daytrader.audit")
	err := sink.Write(context.Background(), audit.Event{ID: "01", Type: audit.ErrorEventEvent})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, sink.Close())
}

func TestNewKafkaSinkValidates(t *testing.T) {
	_, err := audit.NewKafkaSink(nil, "topic")
	assert.Error(t, err)

	_, err = audit.NewKafkaSink([]string{"localhost:9092"}, "")
	assert.Error(t, err)
}
