package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_basket/internal/notify"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type writerMock struct {
	m        sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *writerMock) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.m.Lock()
	defer w.m.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *writerMock) Close() error {
	w.m.Lock()
	defer w.m.Unlock()
	w.closed = true
	return nil
}

func (w *writerMock) written() []kafka.Message {
	w.m.Lock()
	defer w.m.Unlock()
	return append([]kafka.Message(nil), w.messages...)
}

func TestForwarder_WritesBusEvents(t *testing.T) {
	bus := notify.NewBus()
	w := &writerMock{}
	f := NewForwarder(w, nil, nil)
	unsubscribe := f.Subscribe(bus)
	defer unsubscribe()

	bus.Fire(notify.TopicBasketRefresh, "basket:1")
	bus.Fire(notify.TopicBasketItemAdded, "basket:1")
	bus.Fire("unrelated", "basket:1")

	f.flush(context.Background())

	msgs := w.written()
	require.Len(t, msgs, 2)
	assert.Equal(t, "basket:1", string(msgs[0].Key))
	assert.Equal(t, "event_type", msgs[0].Headers[0].Key)
	assert.Equal(t, notify.TopicBasketRefresh, string(msgs[0].Headers[0].Value))

	var ev Event
	require.NoError(t, json.Unmarshal(msgs[1].Value, &ev))
	assert.Equal(t, notify.TopicBasketItemAdded, ev.EventType)
	assert.Equal(t, "basket:1", ev.BasketKey)
	assert.False(t, ev.OccurredAt.IsZero())
}

func TestForwarder_Unsubscribe(t *testing.T) {
	bus := notify.NewBus()
	w := &writerMock{}
	f := NewForwarder(w, nil, nil)
	f.Subscribe(bus)()

	bus.Fire(notify.TopicBasketRefresh, "basket:1")
	f.flush(context.Background())
	assert.Empty(t, w.written())
}

func TestForwarder_DropsWhenBufferFull(t *testing.T) {
	w := &writerMock{}
	f := NewForwarder(w, nil, nil)
	f.events = make(chan Event, 1)

	f.enqueue(notify.TopicBasketRefresh, "basket:1")
	f.enqueue(notify.TopicBasketRefresh, "basket:2")
	f.flush(context.Background())

	msgs := w.written()
	require.Len(t, msgs, 1)
	assert.Equal(t, "basket:1", string(msgs[0].Key))
}

func TestForwarder_WriteErrorIsLogged(t *testing.T) {
	w := &writerMock{err: errors.New("broker down")}
	f := NewForwarder(w, nil, nil)

	f.enqueue(notify.TopicBasketRendered, "basket:1")
	f.flush(context.Background())
	assert.Empty(t, w.written())
}

func TestForwarder_RunFlushesOnShutdown(t *testing.T) {
	w := &writerMock{}
	f := NewForwarder(w, nil, nil)
	f.flushTick = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	f.enqueue(notify.TopicBasketRefresh, "basket:9")
	cancel()
	<-done

	assert.Len(t, w.written(), 1)
	require.NoError(t, f.Close())
	assert.True(t, w.closed)
}

// readerMock hands out queued messages, then blocks until ctx is done
type readerMock struct {
	messages chan kafka.Message
	closed   bool
}

func (r *readerMock) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.messages:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *readerMock) Close() error {
	r.closed = true
	return nil
}

type clearerMock struct {
	m       sync.Mutex
	cleared []string
	err     error
}

func (c *clearerMock) Clear(_ context.Context, id string) error {
	c.m.Lock()
	defer c.m.Unlock()
	if c.err != nil {
		return c.err
	}
	c.cleared = append(c.cleared, id)
	return nil
}

func (c *clearerMock) ids() []string {
	c.m.Lock()
	defer c.m.Unlock()
	return append([]string(nil), c.cleared...)
}

func TestPoller_ClearsBaskets(t *testing.T) {
	reader := &readerMock{messages: make(chan kafka.Message, 4)}
	reader.messages <- kafka.Message{Value: []byte(`{"basket_id":"42","total_amount":10}`)}
	reader.messages <- kafka.Message{Value: []byte(`not json`)}
	reader.messages <- kafka.Message{Value: []byte(`{"user_id":"7"}`)}
	reader.messages <- kafka.Message{Value: []byte(`{"basket_id":"43"}`)}

	clearer := &clearerMock{}
	p := NewPoller(reader, clearer, nil)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, p.readAndClear(ctx))
	}
	assert.Equal(t, []string{"42", "43"}, clearer.ids())

	p.Close()
	assert.True(t, reader.closed)
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	reader := &readerMock{messages: make(chan kafka.Message, 1)}
	reader.messages <- kafka.Message{Value: []byte(`{"basket_id":"1"}`)}
	clearer := &clearerMock{}
	p := NewPoller(reader, clearer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(clearer.ids()) == 1 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPoller_ClearFailureContinues(t *testing.T) {
	reader := &readerMock{messages: make(chan kafka.Message, 1)}
	reader.messages <- kafka.Message{Value: []byte(`{"basket_id":"1"}`)}
	p := NewPoller(reader, &clearerMock{err: errors.New("store down")}, nil)

	assert.NoError(t, p.readAndClear(context.Background()))
}

// flakyReader fails a fixed number of reads, serves its messages, then
// reports the reader closed
type flakyReader struct {
	m        sync.Mutex
	failures int
	messages []kafka.Message
	reads    int
}

func (r *flakyReader) ReadMessage(_ context.Context) (kafka.Message, error) {
	r.m.Lock()
	defer r.m.Unlock()
	r.reads++
	if r.failures > 0 {
		r.failures--
		return kafka.Message{}, errors.New("broker unreachable")
	}
	if len(r.messages) > 0 {
		m := r.messages[0]
		r.messages = r.messages[1:]
		return m, nil
	}
	return kafka.Message{}, io.EOF
}

func (r *flakyReader) Close() error { return nil }

func (r *flakyReader) readCount() int {
	r.m.Lock()
	defer r.m.Unlock()
	return r.reads
}

func TestPoller_RunBacksOffThenStopsOnEOF(t *testing.T) {
	reader := &flakyReader{
		failures: 3,
		messages: []kafka.Message{{Value: []byte(`{"basket_id":"5"}`)}},
	}
	clearer := &clearerMock{}
	p := NewPoller(reader, clearer, nil)
	p.minBackoff = 5 * time.Millisecond
	p.maxBackoff = 10 * time.Millisecond

	started := time.Now()
	done := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop on EOF")
	}

	// 5ms + 10ms + 10ms of backoff before the message got through
	assert.GreaterOrEqual(t, time.Since(started), 25*time.Millisecond)
	assert.Equal(t, 5, reader.readCount())
	assert.Equal(t, []string{"5"}, clearer.ids())
}

func TestPoller_RunStopsDuringBackoff(t *testing.T) {
	reader := &flakyReader{failures: 1_000_000}
	p := NewPoller(reader, &clearerMock{}, nil)
	p.minBackoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return reader.readCount() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
	assert.Equal(t, 1, reader.readCount())
}
