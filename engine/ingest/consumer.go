package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/CodeChampian/safebot/engine/domain"
	"github.com/CodeChampian/safebot/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

const (
	// IngestSubject carries Request messages.
	IngestSubject = "safebot.ingest"
	// DeleteSubject carries DeleteRequest messages.
	DeleteSubject = "safebot.ingest.delete"
	// DLQSubject is the dead letter queue subject for failed messages.
	DLQSubject = "safebot.ingest.dlq"
	// MaxRetries before sending to DLQ.
	MaxRetries = 3
	// RetryHeader counts earlier delivery attempts.
	RetryHeader = "X-Retry-Count"
)

// DLQMessage is published to the DLQ on repeated failure.
type DLQMessage struct {
	Request Request `json:"request"`
	Error   string  `json:"error"`
	Retries int     `json:"retries"`
}

// Consumer runs NATS ingestion requests through a Pipeline with retry and
// DLQ support. Requesters that set a reply subject receive the Result.
type Consumer struct {
	nc       *nats.Conn
	pipeline *Pipeline
	log      *slog.Logger
	subs     []*nats.Subscription
}

// StartConsumer subscribes to the ingest and delete subjects.
func StartConsumer(nc *nats.Conn, pipeline *Pipeline, log *slog.Logger) (*Consumer, error) {
	if log == nil {
		log = slog.Default()
	}
	c := &Consumer{nc: nc, pipeline: pipeline, log: log}

	sub, err := natsutil.SubscribeMsg(nc, IngestSubject, c.handleIngest)
	if err != nil {
		return nil, err
	}
	c.subs = append(c.subs, sub)

	sub, err = natsutil.SubscribeMsg(nc, DeleteSubject, c.handleDelete)
	if err != nil {
		c.Stop()
		return nil, err
	}
	c.subs = append(c.subs, sub)
	return c, nil
}

// Stop drains the subscriptions.
func (c *Consumer) Stop() {
	for _, s := range c.subs {
		_ = s.Drain()
	}
}

func (c *Consumer) handleIngest(ctx context.Context, req Request, msg *nats.Msg) {
	res, err := c.pipeline.Ingest(ctx, req)
	if err == nil {
		c.reply(msg, res)
		return
	}

	retries := retryCount(msg) + 1
	c.log.Error("ingest: pipeline failed",
		"error", err,
		"doc_id", req.DocumentID,
		"retry", retries,
	)
	c.reply(msg, failure(req.DocumentID, err))

	switch {
	case permanent(err) || retries >= MaxRetries:
		dlq := DLQMessage{Request: req, Error: err.Error(), Retries: retries}
		if err := natsutil.Publish(ctx, c.nc, DLQSubject, dlq); err != nil {
			c.log.Error("ingest: DLQ publish failed", "error", err)
		}
	case msg.Reply != "":
		// The requester already has the failure; it decides whether to retry.
	default:
		h := nats.Header{}
		h.Set(RetryHeader, strconv.Itoa(retries))
		if err := natsutil.PublishWithHeader(ctx, c.nc, IngestSubject, req, h); err != nil {
			c.log.Error("ingest: retry publish failed", "error", err)
		}
	}
}

func (c *Consumer) handleDelete(ctx context.Context, req DeleteRequest, msg *nats.Msg) {
	if err := c.pipeline.Delete(ctx, req.DocumentID); err != nil {
		c.log.Error("ingest: delete failed", "error", err, "doc_id", req.DocumentID)
		c.reply(msg, failure(req.DocumentID, err))
		return
	}
	c.reply(msg, Result{DocumentID: req.DocumentID, Message: "Document deleted"})
}

func (c *Consumer) reply(msg *nats.Msg, res Result) {
	if err := natsutil.Respond(msg, res); err != nil {
		c.log.Warn("ingest: reply failed", "error", err)
	}
}

func retryCount(msg *nats.Msg) int {
	if msg.Header == nil {
		return 0
	}
	n, _ := strconv.Atoi(msg.Header.Get(RetryHeader))
	return n
}

// permanent errors fail the same way on every attempt.
func permanent(err error) bool {
	return domain.IsClientError(err) || errors.Is(err, domain.ErrExtraction)
}
