package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisJobQueueRequeueAndAckSuccess(t *testing.T) {
	q, ctx, msgID, jobID, payload := newPendingQueueMessage(t)

	if err := q.requeueAndAck(ctx, msgID, jobID, payload); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-2",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read requeued message: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one requeued message, got %+v", streams)
	}
	got := streams[0].Messages[0]
	if got.Values["job_id"] != jobID || got.Values["target_id"] != payload.TargetID || got.Values["user_id"] != "42" {
		t.Fatalf("unexpected requeued payload: %+v", got.Values)
	}
}

func TestRedisJobQueueRequeueAndAckFailureKeepsPendingMessage(t *testing.T) {
	q, ctx, msgID, jobID, payload := newPendingQueueMessage(t)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceledCtx, msgID, jobID, payload); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}

	streamLen, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if streamLen != 1 {
		t.Fatalf("expected no new message in stream on failure, got len=%d", streamLen)
	}
}

func TestRedisJobQueueHandleMessageSuccessMarksDone(t *testing.T) {
	q, ctx, msgID, jobID, payload := newPendingQueueMessage(t)

	var seen JobStatus
	q.handleMessage(ctx, redis.XMessage{ID: msgID, Values: map[string]any{
		"job_id": jobID, "target_id": payload.TargetID, "user_id": "42",
	}}, func(_ context.Context, job JobStatus) error {
		seen = job
		return nil
	})
	if seen.TargetID != payload.TargetID || seen.UserID != 42 || seen.Attempts != 1 {
		t.Fatalf("unexpected job passed to handler: %+v", seen)
	}
	job, ok, err := q.GetJob(ctx, jobID)
	if err != nil || !ok {
		t.Fatalf("get job: ok=%v err=%v", ok, err)
	}
	if job.Status != StatusDone {
		t.Fatalf("expected done, got %q", job.Status)
	}
	if n, _ := q.client.XLen(ctx, q.stream).Result(); n != 0 {
		t.Fatalf("expected message to be deleted, stream len=%d", n)
	}
}

func TestRedisJobQueuePermanentErrorFailsWithoutRequeue(t *testing.T) {
	q, ctx, msgID, jobID, payload := newPendingQueueMessage(t)

	q.handleMessage(ctx, redis.XMessage{ID: msgID, Values: map[string]any{
		"job_id": jobID, "target_id": payload.TargetID, "user_id": "42",
	}}, func(context.Context, JobStatus) error {
		return Permanent(errors.New("document vanished"))
	})
	job, _, err := q.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != StatusFailed || job.ErrorMessage != "document vanished" {
		t.Fatalf("unexpected job status: %+v", job)
	}
	if n, _ := q.client.XLen(ctx, q.stream).Result(); n != 0 {
		t.Fatalf("permanent failure must not requeue, stream len=%d", n)
	}
}

func TestRedisJobQueueHandlerPanicIsRecovered(t *testing.T) {
	q, ctx, msgID, jobID, payload := newPendingQueueMessage(t)

	q.handleMessage(ctx, redis.XMessage{ID: msgID, Values: map[string]any{
		"job_id": jobID, "target_id": payload.TargetID, "user_id": "42",
	}}, func(context.Context, JobStatus) error {
		panic("boom")
	})
	job, _, _ := q.GetJob(ctx, jobID)
	if job.Status != StatusFailed {
		t.Fatalf("expected failed status after panic, got %q", job.Status)
	}
}

func TestRedisJobQueueRetriesThenFails(t *testing.T) {
	redisSrv := miniredis.RunT(t)
	q, err := NewRedisJobQueue(RedisQueueConfig{
		Addr:       redisSrv.Addr(),
		Stream:     "test:retry",
		Group:      "test-group",
		Consumer:   "c",
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		Block:      20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := q.Enqueue(ctx, Payload{TargetID: "pdf-1", UserID: 1})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		_ = q.Run(ctx, 1, func(context.Context, JobStatus) error {
			calls.Add(1)
			return errors.New("transient")
		})
		close(done)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		status, _, _ := q.GetJob(context.Background(), job.ID)
		if status.Status == StatusFailed {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	status, _, _ := q.GetJob(context.Background(), job.ID)
	if status.Status != StatusFailed {
		t.Fatalf("expected failed after retries, got %+v", status)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 handler calls, got %d", got)
	}
}

func TestReplyJobFromRejectsBadTurnID(t *testing.T) {
	if _, err := ReplyJobFrom(JobStatus{TargetID: "abc"}); !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	job, err := ReplyJobFrom(JobStatus{TargetID: "17", UserID: 3})
	if err != nil || job.TurnID != 17 || job.UserID != 3 {
		t.Fatalf("unexpected reply job %+v err=%v", job, err)
	}
}

func newPendingQueueMessage(t *testing.T) (*RedisJobQueue, context.Context, string, string, Payload) {
	t.Helper()

	redisSrv := miniredis.RunT(t)
	q, err := NewRedisJobQueue(RedisQueueConfig{
		Addr:       redisSrv.Addr(),
		Stream:     "test:queue",
		Group:      "test-group",
		Consumer:   "consumer-1",
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	ctx := context.Background()
	if err := q.ensureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}

	payload := Payload{TargetID: "pdf-1", UserID: 42}
	job, err := q.Enqueue(ctx, payload)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}

	msg := streams[0].Messages[0]
	return q, ctx, msg.ID, job.ID, payload
}
