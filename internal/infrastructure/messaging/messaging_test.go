package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/betting-risk-engine/internal/domain/alert"
	domainerrors "github.com/davidleathers/betting-risk-engine/internal/domain/errors"
	"github.com/davidleathers/betting-risk-engine/internal/domain/events"
	"github.com/davidleathers/betting-risk-engine/internal/infrastructure/config"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func (w *recordingWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

// scriptedReader hands out queued messages, then returns io.EOF.
type scriptedReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	fetchErrs []error
	committed []kafka.Message
}

func (r *scriptedReader) FetchMessage(context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		return kafka.Message{}, err
	}
	if len(r.queue) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := r.queue[0]
	r.queue = r.queue[1:]
	return msg, nil
}

func (r *scriptedReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *scriptedReader) Close() error { return nil }

type mockHandler struct{ mock.Mock }

func (m *mockHandler) OnLoginEvent(ctx context.Context, e *events.LoginEvent) error {
	return m.Called(ctx, e).Error(0)
}

func (m *mockHandler) OnBetPlaced(ctx context.Context, e *events.BetPlacedEvent) error {
	return m.Called(ctx, e).Error(0)
}

func (m *mockHandler) OnTransaction(ctx context.Context, e *events.TransactionEvent) error {
	return m.Called(ctx, e).Error(0)
}

func (m *mockHandler) OnProfileOrIdentityUpdate(ctx context.Context, e *events.ProfileUpdateEvent) error {
	return m.Called(ctx, e).Error(0)
}

func mustEncode(t *testing.T, ev events.Event) []byte {
	t.Helper()
	data, err := Encode(ev)
	require.NoError(t, err)
	return data
}

func TestEncodeDecode(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name  string
		event events.Event
	}{
		{"login", &events.LoginEvent{UserID: userID, IPAddress: "203.0.113.7", Location: "GB", OccurredAt: baseTime}},
		{"bet", &events.BetPlacedEvent{UserID: userID, Stake: decimal.RequireFromString("25.50"), BetType: "single", Odds: 2.5, OccurredAt: baseTime}},
		{"transaction", &events.TransactionEvent{UserID: userID, Type: events.TransactionDeposit, Amount: decimal.NewFromInt(1000), PaymentMethod: "card", Currency: "GBP", OccurredAt: baseTime}},
		{"profile", &events.ProfileUpdateEvent{UserID: userID, Profile: events.ProfileFields{Phone: "+447700900000"}, OccurredAt: baseTime}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(mustEncode(t, tt.event))
			require.NoError(t, err)
			assert.Equal(t, tt.event.Kind(), got.Kind())
			assert.Equal(t, userID, got.Subject())
			assert.True(t, baseTime.Equal(got.Time()))
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		code string
	}{
		{"not json", "{", "INVALID_EVENT_ENVELOPE"},
		{"unknown kind", `{"kind":"deposit_bonus","payload":{}}`, "UNSUPPORTED_EVENT_KIND"},
		{"missing payload", `{"kind":"login"}`, "INVALID_EVENT_PAYLOAD"},
		{"bad payload", `{"kind":"login","payload":{"user_id":42}}`, "INVALID_EVENT_PAYLOAD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			require.Error(t, err)
			var appErr *domainerrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
}

func TestDecode_InheritsEnvelopeTime(t *testing.T) {
	payload, _ := json.Marshal(map[string]any{"user_id": uuid.New(), "ip_address": "10.0.0.1"})
	data, _ := json.Marshal(Envelope{Kind: events.KindLogin, OccurredAt: baseTime, Payload: payload})

	ev, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, baseTime.Equal(ev.Time()))
}

func TestTopics(t *testing.T) {
	assert.Equal(t, []string{"betting.login", "betting.bet_placed", "betting.transaction", "betting.profile_update"}, Topics("betting."))
}

func TestNewWriter(t *testing.T) {
	cfg := config.Defaults().Kafka
	w := NewWriter(&cfg, cfg.AlertTopic)
	assert.Equal(t, "risk.alerts", w.Topic)
	assert.Equal(t, kafka.Snappy, w.Compression)
	assert.IsType(t, &kafka.CRC32Balancer{}, w.Balancer)
	assert.Equal(t, int64(1<<20), w.BatchBytes)

	assert.Equal(t, kafka.Zstd, compression("zstd"))
	assert.Equal(t, kafka.Compression(0), compression("none"))
}

func TestAlertPublisher_Publish(t *testing.T) {
	ctx := context.Background()
	a, err := alert.New(uuid.New(), alert.Draft{
		Type:        alert.TypeLargeTransaction,
		Severity:    alert.SeverityHigh,
		Description: "deposit of 60000",
	}, baseTime)
	require.NoError(t, err)
	a.Version = 3

	w := &recordingWriter{}
	pub := NewAlertPublisher(w, zaptest.NewLogger(t))
	require.NoError(t, pub.Publish(ctx, a))

	msgs := w.written()
	require.Len(t, msgs, 1)
	assert.Equal(t, a.UserID.String(), string(msgs[0].Key))

	var got alert.Alert
	require.NoError(t, json.Unmarshal(msgs[0].Value, &got))
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, alert.StatusOpen, got.Status)

	headers := map[string]string{}
	for _, h := range msgs[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "3", headers["version"])
	assert.Equal(t, string(alert.TypeLargeTransaction), headers["alert_type"])

	w.err = errors.New("broker unavailable")
	err = pub.Publish(ctx, a)
	assert.True(t, domainerrors.IsRetryable(err))

	require.NoError(t, pub.Close())
	assert.True(t, w.closed)
}

func TestConsumer_Run(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	login := &events.LoginEvent{UserID: userID, IPAddress: "203.0.113.7", OccurredAt: baseTime}
	txn := &events.TransactionEvent{UserID: userID, Type: events.TransactionWithdrawal, Amount: decimal.NewFromInt(50), PaymentMethod: "bank", Currency: "EUR", OccurredAt: baseTime}

	reader := &scriptedReader{
		fetchErrs: []error{errors.New("rebalance in progress")},
		queue: []kafka.Message{
			{Topic: "betting.login", Offset: 1, Value: mustEncode(t, login)},
			{Topic: "betting.login", Offset: 2, Value: []byte("garbage")},
			{Topic: "betting.transaction", Offset: 3, Value: mustEncode(t, txn)},
		},
	}

	handler := new(mockHandler)
	handler.On("OnLoginEvent", mock.Anything, mock.MatchedBy(func(e *events.LoginEvent) bool {
		return e.UserID == userID && e.IPAddress == "203.0.113.7"
	})).Return(nil).Once()
	handler.On("OnTransaction", mock.Anything, mock.AnythingOfType("*events.TransactionEvent")).
		Return(domainerrors.NewValidationError("INVALID_EVENT", "currency")).Once()

	dlqWriter := &recordingWriter{}
	dlq := NewDeadLetter(dlqWriter)
	dlq.now = func() time.Time { return baseTime }

	c, err := NewConsumer(reader, handler, dlq, zaptest.NewLogger(t))
	require.NoError(t, err)
	c.backoff = time.Millisecond

	require.NoError(t, c.Run(ctx))
	handler.AssertExpectations(t)

	assert.Len(t, reader.committed, 3)

	parked := dlqWriter.written()
	require.Len(t, parked, 2)
	assert.Equal(t, []byte("garbage"), parked[0].Value)
	headers := map[string]string{}
	for _, h := range parked[1].Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "betting.transaction", headers["dlq_source_topic"])
	assert.Equal(t, "3", headers["dlq_source_offset"])
	assert.Contains(t, headers["dlq_reason"], "currency")
}

func TestConsumer_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reader := &scriptedReader{fetchErrs: []error{context.Canceled}}
	c, err := NewConsumer(reader, new(mockHandler), nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NoError(t, c.Run(ctx))
}

func TestNewConsumer_Validation(t *testing.T) {
	logger := zaptest.NewLogger(t)
	_, err := NewConsumer(nil, new(mockHandler), nil, logger)
	assert.True(t, domainerrors.IsValidation(err))
	_, err = NewConsumer(&scriptedReader{}, nil, nil, logger)
	assert.True(t, domainerrors.IsValidation(err))
	_, err = NewConsumer(&scriptedReader{}, new(mockHandler), nil, nil)
	assert.True(t, domainerrors.IsValidation(err))
}
