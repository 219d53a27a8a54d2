package queue

import (
	"context"
	"fmt"
	"strconv"
)

const (
	ParseStream = "pdfchat:jobs:parse"
	ReplyStream = "pdfchat:jobs:reply"

	ParseGroup = "pdfchat-parse-workers"
	ReplyGroup = "pdfchat-reply-workers"
)

// ParseJob asks the worker to extract text from an uploaded PDF.
type ParseJob struct {
	PDFID  string
	UserID int64
}

// ReplyJob asks the worker to generate the LLM reply for a chat turn.
type ReplyJob struct {
	TurnID int64
	UserID int64
}

// Jobs routes typed jobs onto their streams.
type Jobs struct {
	parse *RedisJobQueue
	reply *RedisJobQueue
}

func NewJobs(parse, reply *RedisJobQueue) *Jobs {
	return &Jobs{parse: parse, reply: reply}
}

func (j *Jobs) EnqueueParse(ctx context.Context, job ParseJob) (JobStatus, error) {
	return j.parse.Enqueue(ctx, Payload{TargetID: job.PDFID, UserID: job.UserID})
}

func (j *Jobs) EnqueueReply(ctx context.Context, job ReplyJob) (JobStatus, error) {
	return j.reply.Enqueue(ctx, Payload{
		TargetID: strconv.FormatInt(job.TurnID, 10),
		UserID:   job.UserID,
	})
}

// ParseJobFrom decodes a parse delivery.
func ParseJobFrom(status JobStatus) ParseJob {
	return ParseJob{PDFID: status.TargetID, UserID: status.UserID}
}

// ReplyJobFrom decodes a reply delivery.
func ReplyJobFrom(status JobStatus) (ReplyJob, error) {
	id, err := strconv.ParseInt(status.TargetID, 10, 64)
	if err != nil || id <= 0 {
		return ReplyJob{}, Permanent(fmt.Errorf("invalid turn id %q", status.TargetID))
	}
	return ReplyJob{TurnID: id, UserID: status.UserID}, nil
}
