package retry

import (
	"errors"
	"fmt"
	"time"
)

// CurrentSchemaVersion is written to every persisted RecordEntity.
const CurrentSchemaVersion = 1

// Record tracks redeliveries of one request for one kind of failure.
type Record struct {
	ExceptionName   string    `json:"exception_name"`
	RetryCount      int       `json:"retry_count"`
	MaxRetryLimit   int       `json:"max_retry_limit"`
	LastAttemptTime time.Time `json:"last_attempt_time"`
}

// Exhausted reports whether the record has used its redelivery budget.
func (r Record) Exhausted() bool {
	return r.RetryCount >= r.MaxRetryLimit
}

// RecordEntity is the persisted value stored under a request id.
// It holds at most one Record per exception name.
type RecordEntity struct {
	Records         []Record  `json:"records"`
	LastUpdatedTime time.Time `json:"last_updated_time"`
	SchemaVersion   int       `json:"schema_version"`
}

// Find returns the record for exceptionName.
func (e *RecordEntity) Find(exceptionName string) (Record, bool) {
	for _, r := range e.Records {
		if r.ExceptionName == exceptionName {
			return r, true
		}
	}
	return Record{}, false
}

// replace drops any record with the same exception name and appends rec.
func (e *RecordEntity) replace(rec Record) {
	e.remove(rec.ExceptionName)
	e.Records = append(e.Records, rec)
}

// remove drops the record for exceptionName and reports whether one existed.
func (e *RecordEntity) remove(exceptionName string) bool {
	for i, r := range e.Records {
		if r.ExceptionName == exceptionName {
			e.Records = append(e.Records[:i], e.Records[i+1:]...)
			return true
		}
	}
	return false
}

// namedError lets an error choose the name it is tracked under.
type namedError interface {
	ExceptionName() string
}

// ExceptionName derives the name a failure is tracked under. Errors may
// provide their own name; otherwise the dynamic type of the innermost
// wrapped error is used, so "send: %w" wrappers do not split the budget.
func ExceptionName(err error) string {
	if err == nil {
		return ""
	}
	var named namedError
	if errors.As(err, &named) {
		return named.ExceptionName()
	}
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return fmt.Sprintf("%T", err)
		}
		err = next
	}
}
