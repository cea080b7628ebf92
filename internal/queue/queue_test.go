package queue

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/rabbitmq/amqp091-go"

	"github.com/OFFIS-RIT/kinlink/backend/internal/job"
)

func TestReroute(t *testing.T) {
	tests := []struct {
		name        string
		headers     amqp091.Table
		wantQueue   string
		wantRetries any
	}{
		{name: "first failure", headers: nil, wantQueue: "resolve_queue_retry", wantRetries: int32(1)},
		{name: "counting up", headers: amqp091.Table{"x-retries": int32(3)}, wantQueue: "resolve_queue_retry", wantRetries: int32(4)},
		{name: "exhausted", headers: amqp091.Table{"x-retries": int32(MaxRetries)}, wantQueue: "resolve_queue_dlq", wantRetries: int32(MaxRetries)},
		{name: "int64 header", headers: amqp091.Table{"x-retries": int64(MaxRetries + 1)}, wantQueue: "resolve_queue_dlq", wantRetries: int64(MaxRetries + 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue, headers := Reroute(ResolveQueue, tt.headers)
			if queue != tt.wantQueue {
				t.Fatalf("queue = %q, want %q", queue, tt.wantQueue)
			}
			if !reflect.DeepEqual(headers["x-retries"], tt.wantRetries) {
				t.Fatalf("x-retries = %#v, want %#v", headers["x-retries"], tt.wantRetries)
			}
		})
	}
}

func TestRerouteDoesNotMutateHeaders(t *testing.T) {
	in := amqp091.Table{"x-retries": int32(2), "trace": "abc"}
	_, out := Reroute(ResolveQueue, in)
	if in["x-retries"] != int32(2) {
		t.Fatal("input headers were modified")
	}
	if out["trace"] != "abc" {
		t.Fatal("headers not carried over")
	}
}

type recordingPublisher struct {
	key string
	msg amqp091.Publishing
}

func (p *recordingPublisher) Publish(exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	p.key = key
	p.msg = msg
	return nil
}

func TestPublishFIFO(t *testing.T) {
	p := &recordingPublisher{}
	if err := PublishFIFO(p, ResolveQueue, []byte(`{"id":"x"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.key != ResolveQueue || p.msg.DeliveryMode != amqp091.Persistent || string(p.msg.Body) != `{"id":"x"}` {
		t.Fatalf("unexpected publishing %+v to %q", p.msg, p.key)
	}
}

type fakeRunner struct {
	got *job.Job
	err error
}

func (f *fakeRunner) Run(ctx context.Context, j *job.Job) (*job.RunResult, error) {
	f.got = j
	if f.err != nil {
		return nil, f.err
	}
	return &job.RunResult{RunID: "r1"}, nil
}

func TestProcessResolveMessage(t *testing.T) {
	valid := `{"id":"j1","datasets":[{"name":"h","file":{"path":"h.csv"},"id_column":"ID","output":"o.csv"}]}`
	boom := errors.New("boom")

	tests := []struct {
		name      string
		msg       string
		runErr    error
		wantErr   bool
		wantCalls bool
	}{
		{name: "valid job", msg: valid, wantCalls: true},
		{name: "invalid json", msg: `not json`, wantErr: true},
		{name: "invalid job", msg: `{"id":"j1"}`, wantErr: true},
		{name: "run fails", msg: valid, runErr: boom, wantErr: true, wantCalls: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{err: tt.runErr}
			err := ProcessResolveMessage(context.Background(), runner, []byte(tt.msg))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if (runner.got != nil) != tt.wantCalls {
				t.Fatalf("runner called = %v, want %v", runner.got != nil, tt.wantCalls)
			}
			if tt.runErr != nil && !errors.Is(err, tt.runErr) {
				t.Fatalf("run error not propagated: %v", err)
			}
		})
	}
}
