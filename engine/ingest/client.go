package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CodeChampian/safebot/engine/domain"
	"github.com/CodeChampian/safebot/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

// ErrRemoteIngest marks a failure reported back by the ingestion worker.
var ErrRemoteIngest = errors.New("ingest worker failure")

// errorKinds are the error classes that survive the trip over NATS. Order
// matters: the first kind err matches is the one reported.
var errorKinds = []struct {
	name string
	err  error
}{
	{"invalid_document", domain.ErrInvalidDocument},
	{"unsupported_format", domain.ErrUnsupportedFormat},
	{"extraction", domain.ErrExtraction},
	{"embedding", domain.ErrEmbedding},
	{"vector_upsert", domain.ErrVectorUpsert},
	{"vector_delete", domain.ErrVectorDelete},
}

// failure builds the reply for a failed request.
func failure(docID string, err error) Result {
	res := Result{DocumentID: docID, Error: err.Error()}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			res.Kind = k.name
			break
		}
	}
	return res
}

// remoteError turns a failed reply back into an error that matches both
// ErrRemoteIngest and the original kind.
func remoteError(res Result) error {
	for _, k := range errorKinds {
		if k.name == res.Kind {
			return fmt.Errorf("%w: %w: %s", ErrRemoteIngest, k.err, res.Error)
		}
	}
	return fmt.Errorf("%w: %s", ErrRemoteIngest, res.Error)
}

// Ingester is the ingestion contract shared by the local Pipeline and the
// NATS Client.
type Ingester interface {
	Ingest(ctx context.Context, req Request) (Result, error)
	Delete(ctx context.Context, documentID string) error
}

var (
	_ Ingester = (*Pipeline)(nil)
	_ Ingester = (*Client)(nil)
)

// Client hands requests to a Consumer over NATS and waits for its reply.
type Client struct {
	nc      *nats.Conn
	timeout time.Duration
}

// NewClient returns a Client. A non-positive timeout uses nats.DefaultTimeout.
func NewClient(nc *nats.Conn, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = nats.DefaultTimeout
	}
	return &Client{nc: nc, timeout: timeout}
}

// Ingest asks the worker to ingest one document.
func (c *Client) Ingest(ctx context.Context, req Request) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	res, err := natsutil.Request[Request, Result](ctx, c.nc, IngestSubject, req)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: request %s: %w", req.DocumentID, err)
	}
	if res.Error != "" {
		return res, remoteError(res)
	}
	return res, nil
}

// Delete asks the worker to remove a document's chunks.
func (c *Client) Delete(ctx context.Context, documentID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	res, err := natsutil.Request[DeleteRequest, Result](ctx, c.nc, DeleteSubject, DeleteRequest{DocumentID: documentID})
	if err != nil {
		return fmt.Errorf("ingest: delete request %s: %w", documentID, err)
	}
	if res.Error != "" {
		return remoteError(res)
	}
	return nil
}
