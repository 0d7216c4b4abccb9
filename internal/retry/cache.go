package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/alert-relay/internal/keystore"
)

// ErrEmptyRequestID is returned when a request id is missing.
var ErrEmptyRequestID = errors.New("empty request id")

// CacheClient persists RecordEntity values in the retry key store, one entity
// per request id.
//
// Every mutation is a read-modify-write of the whole entity without
// compare-and-swap. Concurrent redeliveries of one request id may lose an
// update; retry counts are a rate limiter, not an exact counter.
type CacheClient struct {
	store keystore.KeyStore
	now   func() time.Time
}

// NewCacheClient creates a CacheClient. ttl is applied on every write, so an
// entity expires ttl after its last update.
func NewCacheClient(store keystore.KeyStore, ttl time.Duration) *CacheClient {
	store.SetTTL(ttl)
	return &CacheClient{
		store: store,
		now:   time.Now,
	}
}

// GetRetryRecordFromCache returns the entity stored for requestID.
func (c *CacheClient) GetRetryRecordFromCache(ctx context.Context, requestID string) (*RecordEntity, bool, error) {
	if requestID == "" {
		return nil, false, ErrEmptyRequestID
	}
	var entity RecordEntity
	ok, err := keystore.GetJSON(ctx, c.store, requestID, &entity)
	if err != nil {
		return nil, false, fmt.Errorf("get retry entity: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &entity, true, nil
}

// GetRetryRecordForException returns the record for exceptionName under requestID.
func (c *CacheClient) GetRetryRecordForException(ctx context.Context, requestID, exceptionName string) (Record, bool, error) {
	entity, ok, err := c.GetRetryRecordFromCache(ctx, requestID)
	if err != nil || !ok {
		return Record{}, false, err
	}
	rec, found := entity.Find(exceptionName)
	return rec, found, nil
}

// PutRetryRecord stores rec under requestID, replacing any record with the
// same exception name.
func (c *CacheClient) PutRetryRecord(ctx context.Context, requestID string, rec Record) error {
	entity, ok, err := c.GetRetryRecordFromCache(ctx, requestID)
	if err != nil {
		return err
	}
	if !ok {
		entity = &RecordEntity{}
	}
	entity.replace(rec)
	return c.write(ctx, requestID, entity)
}

// RecordFailure bumps the retry count tracked for err under requestID and
// returns the updated record. A new record starts at one with maxRetryLimit.
func (c *CacheClient) RecordFailure(ctx context.Context, requestID string, err error, maxRetryLimit int) (Record, error) {
	name := ExceptionName(err)

	rec, ok, getErr := c.GetRetryRecordForException(ctx, requestID, name)
	if getErr != nil {
		return Record{}, getErr
	}
	if !ok {
		rec = Record{ExceptionName: name, MaxRetryLimit: maxRetryLimit}
	}
	rec.RetryCount++
	rec.LastAttemptTime = c.now().UTC()

	if err := c.PutRetryRecord(ctx, requestID, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// DeleteRetryRecord removes the record for exceptionName. The entity itself is
// deleted once its last record is gone. A missing entity is a no-op.
func (c *CacheClient) DeleteRetryRecord(ctx context.Context, requestID, exceptionName string) error {
	entity, ok, err := c.GetRetryRecordFromCache(ctx, requestID)
	if err != nil {
		return err
	}
	if !ok {
		slog.Debug("no retry entity to delete from",
			"request_id", requestID,
			"exception", exceptionName,
		)
		return nil
	}

	if !entity.remove(exceptionName) {
		return nil
	}
	if len(entity.Records) == 0 {
		return c.Clear(ctx, requestID)
	}
	return c.write(ctx, requestID, entity)
}

// Clear removes all retry bookkeeping for requestID.
func (c *CacheClient) Clear(ctx context.Context, requestID string) error {
	if requestID == "" {
		return ErrEmptyRequestID
	}
	if err := c.store.Delete(ctx, requestID); err != nil {
		return fmt.Errorf("delete retry entity: %w", err)
	}
	return nil
}

func (c *CacheClient) write(ctx context.Context, requestID string, entity *RecordEntity) error {
	entity.LastUpdatedTime = c.now().UTC()
	entity.SchemaVersion = CurrentSchemaVersion
	if err := keystore.PutJSON(ctx, c.store, requestID, entity); err != nil {
		return fmt.Errorf("put retry entity: %w", err)
	}
	return nil
}
