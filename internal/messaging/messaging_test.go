package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"serial-novel/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	queue string
	msg   amqp.Publishing
}

type fakeChannel struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{queue: key, msg: msg})
	return nil
}

type ackRecorder struct {
	mu     sync.Mutex
	acked  []uint64
	nacked []uint64
}

func (a *ackRecorder) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *ackRecorder) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if requeue {
		return errors.New("requeue is not expected")
	}
	a.nacked = append(a.nacked, tag)
	return nil
}

func (a *ackRecorder) Reject(tag uint64, requeue bool) error { return a.Nack(tag, false, requeue) }

type handlerFunc func(ctx context.Context, p TaskPayload) error

func (f handlerFunc) Handle(ctx context.Context, p TaskPayload) error { return f(ctx, p) }

func TestTaskPayloadValidate(t *testing.T) {
	base := TaskPayload{TaskID: "t1", StoryTitle: "Salt Road"}
	cases := []struct {
		name    string
		mutate  func(p *TaskPayload)
		wantErr bool
	}{
		{"finalize", func(p *TaskPayload) { p.Type = TaskFinalizeStory }, false},
		{"create without info", func(p *TaskPayload) { p.Type = TaskCreateStory }, true},
		{"create with info", func(p *TaskPayload) { p.Type = TaskCreateStory; p.Info = &models.StoryInfo{Title: "Salt Road"} }, false},
		{"create with other title", func(p *TaskPayload) { p.Type = TaskCreateStory; p.Info = &models.StoryInfo{Title: "Other"} }, true},
		{"revise without feedback", func(p *TaskPayload) { p.Type = TaskReviseOutline; p.EpisodeIndex = 2 }, true},
		{"revise", func(p *TaskPayload) { p.Type = TaskReviseOutline; p.EpisodeIndex = 2; p.Feedback = "more rain" }, false},
		{"translate without language", func(p *TaskPayload) { p.Type = TaskTranslateStory }, true},
		{"unknown type", func(p *TaskPayload) { p.Type = "publish" }, true},
		{"missing task id", func(p *TaskPayload) { p.Type = TaskGenerateStory; p.TaskID = "" }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := base
			tc.mutate(&p)
			err := p.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, models.ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTaskPublisher(t *testing.T) {
	ch := &fakeChannel{}
	pub := NewRabbitMQTaskPublisher(ch, zerolog.Nop())

	payload := TaskPayload{TaskID: "t1", Type: TaskTranslateStory, StoryTitle: "Salt Road", TargetLanguage: "Hindi"}
	require.NoError(t, pub.PublishTask(context.Background(), payload))

	require.Len(t, ch.sent, 1)
	assert.Equal(t, TaskQueue, ch.sent[0].queue)
	assert.Equal(t, "t1", ch.sent[0].msg.MessageId)
	assert.Equal(t, amqp.Persistent, ch.sent[0].msg.DeliveryMode)

	var decoded TaskPayload
	require.NoError(t, json.Unmarshal(ch.sent[0].msg.Body, &decoded))
	assert.Equal(t, payload, decoded)

	assert.ErrorIs(t, pub.PublishTask(context.Background(), TaskPayload{TaskID: "t2"}), models.ErrInvalidInput)
	assert.Len(t, ch.sent, 1)

	ch.err = errors.New("channel closed")
	assert.ErrorContains(t, pub.PublishTask(context.Background(), payload), "channel closed")
}

func TestNotifier(t *testing.T) {
	ch := &fakeChannel{}
	n := NewRabbitMQNotifier(ch, zerolog.Nop())

	require.NoError(t, n.Notify(context.Background(), NotificationPayload{
		TaskID: "t1", Status: NotificationStatusProgress, Episode: 2, State: "merging_result",
	}))
	require.Len(t, ch.sent, 1)
	assert.Equal(t, NotificationQueue, ch.sent[0].queue)
	assert.Equal(t, "t1-progress-2-merging_result", ch.sent[0].msg.MessageId)
}

func TestConsumer(t *testing.T) {
	acks := &ackRecorder{}
	deliver := func(tag uint64, v any) amqp.Delivery {
		body, _ := json.Marshal(v)
		return amqp.Delivery{Acknowledger: acks, DeliveryTag: tag, Body: body}
	}

	var handled []string
	handler := handlerFunc(func(_ context.Context, p TaskPayload) error {
		handled = append(handled, p.TaskID)
		if p.TaskID == "bad" {
			return errors.New("generation failed")
		}
		return nil
	})

	deliveries := make(chan amqp.Delivery, 4)
	deliveries <- deliver(1, TaskPayload{TaskID: "ok", Type: TaskFinalizeStory, StoryTitle: "A"})
	deliveries <- deliver(2, TaskPayload{TaskID: "bad", Type: TaskFinalizeStory, StoryTitle: "A"})
	deliveries <- amqp.Delivery{Acknowledger: acks, DeliveryTag: 3, Body: []byte("{not json")}
	deliveries <- deliver(4, TaskPayload{TaskID: "invalid", Type: "nope", StoryTitle: "A"})
	close(deliveries)

	NewConsumer(handler, zerolog.Nop()).Run(context.Background(), deliveries)

	assert.Equal(t, []string{"ok", "bad"}, handled)
	assert.Equal(t, []uint64{1}, acks.acked)
	assert.Equal(t, []uint64{2, 3, 4}, acks.nacked)
}

func TestConsumer_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewConsumer(handlerFunc(func(context.Context, TaskPayload) error { return nil }), zerolog.Nop()).
			Run(ctx, make(chan amqp.Delivery))
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

type declareRecorder struct {
	queues map[string]amqp.Table
	binds  []string
}

func (d *declareRecorder) ExchangeDeclare(string, string, bool, bool, bool, bool, amqp.Table) error {
	return nil
}

func (d *declareRecorder) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	d.queues[name] = args
	return amqp.Queue{Name: name}, nil
}

func (d *declareRecorder) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	d.binds = append(d.binds, name+"->"+exchange+":"+key)
	return nil
}

func TestDeclareTopology(t *testing.T) {
	rec := &declareRecorder{queues: map[string]amqp.Table{}}
	require.NoError(t, DeclareTopology(rec))

	require.Contains(t, rec.queues, TaskQueue)
	assert.Equal(t, deadLetterExchange, rec.queues[TaskQueue]["x-dead-letter-exchange"])
	assert.Contains(t, rec.queues, NotificationQueue)
	assert.Contains(t, rec.queues, deadLetterQueue)
	assert.Equal(t, []string{deadLetterQueue + "->" + deadLetterExchange + ":" + deadLetterRoutingKey}, rec.binds)
}
