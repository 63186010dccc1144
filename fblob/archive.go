// Package fblob archives delivery log rows to a blob store bucket as JSON
// lines objects, one object per batch. The archive serves audit and replay
// diagnostics; nothing on the dispatch path reads it.
//
// Buckets are opened via gocloud.dev URLs, ex. "file:///archive" or
// "mem://", with drivers registered by the importer.
package fblob

import (
	"context"
	"encoding/json"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"gocloud.dev/blob"

	"github.com/ledgerlane/fanout"
)

// NewArchiver returns an archiver writing to the bucket at the url. Close
// it to release the bucket.
func NewArchiver(ctx context.Context, bucketURL string, opts ...ArchiverOption) (*Archiver, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, errors.Wrap(err, "open bucket error", j.KV("url", bucketURL))
	}

	a := &Archiver{
		bucket: bucket,
		prefix: "module_event_logs",
		now:    time.Now,
	}

	for _, o := range opts {
		o(a)
	}

	return a, nil
}

// ArchiverOption defines a functional option to configure new archivers.
type ArchiverOption func(*Archiver)

// WithPrefix provides an option to set the object key prefix. It defaults to
// 'module_event_logs'.
func WithPrefix(prefix string) ArchiverOption {
	return func(a *Archiver) {
		a.prefix = prefix
	}
}

// WithNow provides an option to set the clock, for testing.
func WithNow(now func() time.Time) ArchiverOption {
	return func(a *Archiver) {
		a.now = now
	}
}

// Archiver writes delivery log batches to a blob bucket.
type Archiver struct {
	bucket *blob.Bucket
	prefix string
	now    func() time.Time
}

// Archive writes the entries as one JSON lines object and returns its key.
// An empty batch writes nothing and returns an empty key.
func (a *Archiver) Archive(ctx context.Context, entries []fanout.DeliveryEntry) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}

	key := path.Join(a.prefix,
		a.now().UTC().Format("2006/01/02"),
		uuid.NewString()+".jsonl")

	w, err := a.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return "", errors.Wrap(err, "new writer error", j.KV("key", key))
	}

	enc := json.NewEncoder(w)
	for _, entry := range entries {
		if err := enc.Encode(archiveEntry(entry)); err != nil {
			_ = w.Close()
			return "", errors.Wrap(err, "encode entry error", j.KV("key", key))
		}
	}

	if err := w.Close(); err != nil {
		return "", errors.Wrap(err, "close writer error", j.KV("key", key))
	}
	return key, nil
}

// Close releases the underlying bucket.
func (a *Archiver) Close() error {
	return a.bucket.Close()
}

type archiveLine struct {
	ID             int64     `json:"id"`
	EventID        string    `json:"event_id"`
	SubscriptionID string    `json:"subscription_id"`
	TenantID       string    `json:"tenant_id"`
	Status         string    `json:"status"`
	Response       string    `json:"response_or_error"`
	CreatedAt      time.Time `json:"created_at"`
}

func archiveEntry(e fanout.DeliveryEntry) archiveLine {
	return archiveLine{
		ID:             e.ID,
		EventID:        e.EventID,
		SubscriptionID: e.SubscriptionID,
		TenantID:       e.TenantID,
		Status:         e.Status.String(),
		Response:       e.Response,
		CreatedAt:      e.CreatedAt,
	}
}
