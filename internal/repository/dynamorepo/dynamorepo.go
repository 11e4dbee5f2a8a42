// Package dynamorepo stores chunk records in a DynamoDB table keyed by the
// "x,z" chunk key.
package dynamorepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/guregu/dynamo"

	"voxelforge.ai/internal/chunk"
	"voxelforge.ai/internal/coords"
	"voxelforge.ai/internal/repository"
)

type Item struct {
	Key         string `dynamo:"key,hash"`
	X           int    `dynamo:"x"`
	Z           int    `dynamo:"z"`
	ContentHash uint64 `dynamo:"content_hash"`
	Record      []byte `dynamo:"record"`
	UpdatedAt   string `dynamo:"updated_at"`
}

func ItemFromRecord(rec repository.Record) Item {
	return Item{
		Key:         rec.Key,
		X:           rec.X,
		Z:           rec.Z,
		ContentHash: rec.ContentHash,
		Record:      rec.Payload,
		UpdatedAt:   rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (it Item) ToRecord() repository.Record {
	t, _ := time.Parse(time.RFC3339Nano, it.UpdatedAt)
	return repository.Record{
		Key:         it.Key,
		X:           it.X,
		Z:           it.Z,
		ContentHash: it.ContentHash,
		Payload:     it.Record,
		UpdatedAt:   t,
	}
}

type Repo struct {
	svc    *dynamodb.DynamoDB
	db     *dynamo.DB
	table  dynamo.Table
	notify *repository.Notifier
}

// TableName follows the <prefix>-<stage>-chunks convention.
func TableName(prefix, stage string) string {
	return prefix + "-" + stage + "-chunks"
}

func New(sess *session.Session, table string) (*Repo, error) {
	if table == "" {
		return nil, fmt.Errorf("empty dynamodb table name")
	}
	r := &Repo{svc: dynamodb.New(sess), notify: repository.NewNotifier(0)}
	r.db = dynamo.NewFromIface(r.svc)
	r.table = r.db.Table(table)
	return r, nil
}

func (r *Repo) Load(ctx context.Context, c coords.ChunkCoord) (*chunk.Data, error) {
	var it Item
	err := r.table.Get("key", c.Key()).OneWithContext(ctx, &it)
	if errors.Is(err, dynamo.ErrNotFound) {
		r.notify.Emit(repository.EventMissing, c, 0, nil)
		return nil, repository.ErrNotFound
	}
	if err != nil {
		err = classify(err)
		r.notify.Emit(repository.EventFailed, c, 0, err)
		return nil, fmt.Errorf("load %s: %w", c, err)
	}
	rec := it.ToRecord()
	d, err := rec.Decode()
	if err != nil {
		r.notify.Emit(repository.EventFailed, c, rec.ContentHash, err)
		return nil, fmt.Errorf("load %s: %w", c, err)
	}
	r.notify.Emit(repository.EventLoaded, c, rec.ContentHash, nil)
	return d, nil
}

// Save writes conditionally so an unchanged record costs one rejected put
// instead of a read followed by a write.
func (r *Repo) Save(ctx context.Context, c coords.ChunkCoord, d *chunk.Data) error {
	rec, err := repository.EncodeRecord(c, d)
	if err != nil {
		return fmt.Errorf("save %s: %w", c, err)
	}
	err = r.table.Put(ItemFromRecord(rec)).
		If("attribute_not_exists(content_hash) OR content_hash <> ?", rec.ContentHash).
		RunWithContext(ctx)
	if isCondCheckFailed(err) {
		r.notify.Emit(repository.EventSkipped, c, rec.ContentHash, nil)
		return nil
	}
	if err != nil {
		err = classify(err)
		r.notify.Emit(repository.EventFailed, c, rec.ContentHash, err)
		return fmt.Errorf("save %s: %w", c, err)
	}
	r.notify.Emit(repository.EventSaved, c, rec.ContentHash, nil)
	return nil
}

func isCondCheckFailed(err error) bool {
	if err == nil {
		return false
	}
	var ccf *dynamodb.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var ae awserr.Error
	return errors.As(err, &ae) && ae.Code() == dynamodb.ErrCodeConditionalCheckFailedException
}

// classify marks throttling and missing tables as ErrUnavailable; every
// other error is a per-record failure.
func classify(err error) error {
	var ae awserr.Error
	if errors.As(err, &ae) {
		switch ae.Code() {
		case dynamodb.ErrCodeResourceNotFoundException,
			dynamodb.ErrCodeProvisionedThroughputExceededException,
			dynamodb.ErrCodeRequestLimitExceeded,
			"RequestError":
			return fmt.Errorf("%w: %v", repository.ErrUnavailable, err)
		}
	}
	return err
}

func (r *Repo) Observe() <-chan repository.Event { return r.notify.Chan() }

func (r *Repo) Close() error {
	r.notify.Close()
	return nil
}
