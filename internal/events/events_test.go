package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-search-service/internal/domain"
	"github.com/helixir/paper-search-service/internal/llm"
	"github.com/helixir/paper-search-service/internal/observability"
)

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *mockWriter) Close() error {
	return m.Called().Error(0)
}

// sliceReader yields its messages, then blocks until ctx is done.
type sliceReader struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (r *sliceReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		msg := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *sliceReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func TestNewUsageEvent(t *testing.T) {
	t.Parallel()

	t.Run("reads request id and byok credentials", func(t *testing.T) {
		t.Parallel()
		ctx := observability.WithRequestID(context.Background(), "req-1")
		ctx = llm.WithCredentials(ctx, llm.Credentials{Provider: "openai", APIKey: "sk-user"})

		e := NewUsageEvent(ctx, OperationSearch, "search-1")

		assert.NotEmpty(t, e.ID)
		assert.Equal(t, "search-1", e.SearchID)
		assert.Equal(t, "req-1", e.RequestID)
		assert.Equal(t, OperationSearch, e.Operation)
		assert.True(t, e.BYOK)
		assert.Equal(t, "openai", e.Provider)
		assert.NoError(t, e.Finish(time.Now(), nil).Validate())
	})

	t.Run("search id defaults to event id", func(t *testing.T) {
		t.Parallel()
		e := NewUsageEvent(context.Background(), OperationFulltext, "")
		assert.Equal(t, e.ID, e.SearchID)
		assert.False(t, e.BYOK)
	})
}

func TestUsageEvent_Finish(t *testing.T) {
	t.Parallel()

	start := time.Now().Add(-20 * time.Millisecond)
	base := NewUsageEvent(context.Background(), OperationPaperDetail, "")

	ok := base.Finish(start, nil)
	assert.Equal(t, OutcomeSuccess, ok.Outcome)
	assert.Empty(t, ok.ErrorKind)
	assert.GreaterOrEqual(t, ok.DurationMS, int64(20))

	empty := base
	empty.Outcome = OutcomeEmpty
	assert.Equal(t, OutcomeEmpty, empty.Finish(start, nil).Outcome)

	failed := base.Finish(start, &llm.ServiceError{Kind: llm.KindBilling})
	assert.Equal(t, OutcomeFailed, failed.Outcome)
	assert.Equal(t, "llm_billing", failed.ErrorKind)
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("detail: %w", &llm.ServiceError{Kind: llm.KindInvalidKey}), "llm_invalid_key"},
		{domain.NewNotFoundError("paper", "x"), ErrorNotFound},
		{domain.NewValidationError("query", "required"), ErrorInvalidInput},
		{fmt.Errorf("%w: http 403", domain.ErrNoPDF), ErrorNoPDF},
		{domain.ErrNoExtractableText, ErrorNoText},
		{domain.NewRateLimitError("pubmed", time.Second), ErrorRateLimited},
		{domain.NewExternalAPIError("example.org", 502, "down", domain.ErrServiceUnavailable), ErrorUnavailable},
		{context.DeadlineExceeded, ErrorCanceled},
		{errors.New("boom"), ErrorInternal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err), tt.err.Error())
	}
}

func TestUsageEvent_Validate(t *testing.T) {
	t.Parallel()

	valid := UsageEvent{ID: "1", SearchID: "s", Operation: OperationSearch, Outcome: OutcomeSuccess}
	require.NoError(t, valid.Validate())

	for name, mutate := range map[string]func(*UsageEvent){
		"id":        func(e *UsageEvent) { e.ID = "" },
		"search_id": func(e *UsageEvent) { e.SearchID = "" },
		"operation": func(e *UsageEvent) { e.Operation = "" },
		"outcome":   func(e *UsageEvent) { e.Outcome = "" },
	} {
		e := valid
		mutate(&e)
		err := e.Validate()
		require.Error(t, err, name)
		assert.Contains(t, err.Error(), name)
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	t.Parallel()

	w := new(mockWriter)
	var sent []kafka.Message
	w.On("WriteMessages", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).([]kafka.Message) }).
		Return(nil).Once()

	p := newKafkaPublisher(w, 0, zerolog.Nop())
	event := NewUsageEvent(context.Background(), OperationSearch, "search-42").Finish(time.Now(), nil)

	// A cancelled request context must not prevent delivery.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Publish(ctx, event))

	w.AssertExpectations(t)
	require.Len(t, sent, 1)
	assert.Equal(t, []byte("search-42"), sent[0].Key)

	var decoded UsageEvent
	require.NoError(t, json.Unmarshal(sent[0].Value, &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, OutcomeSuccess, decoded.Outcome)
	assert.Equal(t, "operation", sent[0].Headers[0].Key)
	assert.Equal(t, []byte(OperationSearch), sent[0].Headers[0].Value)
}

func TestKafkaPublisher_Errors(t *testing.T) {
	t.Parallel()

	t.Run("invalid event is not written", func(t *testing.T) {
		t.Parallel()
		w := new(mockWriter)
		p := newKafkaPublisher(w, time.Second, zerolog.Nop())

		err := p.Publish(context.Background(), UsageEvent{})
		require.Error(t, err)
		w.AssertNotCalled(t, "WriteMessages", mock.Anything, mock.Anything)
	})

	t.Run("writer failure is returned", func(t *testing.T) {
		t.Parallel()
		w := new(mockWriter)
		w.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("broker down"))
		p := newKafkaPublisher(w, time.Second, zerolog.Nop())

		err := p.Publish(context.Background(), NewUsageEvent(context.Background(), OperationSearch, "").Finish(time.Now(), nil))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broker down")
	})
}

func TestNewKafkaPublisher_Config(t *testing.T) {
	t.Parallel()

	_, err := NewKafkaPublisher(KafkaConfig{Topic: "usage"}, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}}, zerolog.Nop())
	assert.Error(t, err)

	p, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "usage"}, zerolog.Nop())
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}

func TestListener_Run(t *testing.T) {
	t.Parallel()

	good, err := json.Marshal(UsageEvent{ID: "1", SearchID: "s", Operation: OperationSearch, Outcome: OutcomeFailed, ErrorKind: "llm_billing"})
	require.NoError(t, err)
	reader := &sliceReader{msgs: []kafka.Message{
		{Value: []byte("not json")},
		{Value: good},
		{Value: good},
	}}

	var (
		mu  sync.Mutex
		got []UsageEvent
	)
	ctx, cancel := context.WithCancel(context.Background())
	handler := func(_ context.Context, e UsageEvent) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
		if len(got) == 1 {
			return errors.New("handler failure is skipped")
		}
		cancel()
		return nil
	}

	l := newListener(reader, handler, zerolog.Nop())
	err = l.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, got, 2)
	assert.Equal(t, "llm_billing", got[1].ErrorKind)
	require.NoError(t, l.Close())
	assert.True(t, reader.closed)
}

func TestLogPublisher(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewLogPublisher(zerolog.New(&buf))

	require.NoError(t, p.Publish(context.Background(), UsageEvent{ID: "1", SearchID: "s", Operation: OperationSearch, Outcome: OutcomeSuccess}))
	assert.Contains(t, buf.String(), `"operation":"search"`)
	assert.Error(t, p.Publish(context.Background(), UsageEvent{}))

	assert.NoError(t, NopPublisher{}.Publish(context.Background(), UsageEvent{}))
}
