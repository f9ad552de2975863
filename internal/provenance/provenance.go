// Package provenance records the dataset operations a butler performs and
// fans each record out to subscribers.
package provenance

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/zjrosen/butler/internal/dataid"
	"github.com/zjrosen/butler/internal/log"
)

// Operation names a recorded butler operation.
type Operation string

const (
	OperationGet Operation = "get"
	OperationPut Operation = "put"
)

const defaultBufferSize = 64

// Record is one completed get or put.
type Record struct {
	Operation   Operation
	DatasetType string
	DataID      dataid.DataID
	Locations   []string
	Timestamp   time.Time
}

func (r Record) String() string {
	return string(r.Operation) + " " + r.DatasetType + " " + r.DataID.String() + " [" + strings.Join(r.Locations, ", ") + "]"
}

// Log is an append-only provenance log. It is safe for concurrent use.
type Log struct {
	mu         sync.RWMutex
	records    []Record
	subs       map[chan Record]struct{}
	done       chan struct{}
	bufferSize int
}

// NewLog creates a log whose subscriber channels buffer 64 records.
func NewLog() *Log {
	return NewLogWithBuffer(defaultBufferSize)
}

// NewLogWithBuffer creates a log with a custom subscriber buffer size.
func NewLogWithBuffer(size int) *Log {
	return &Log{
		subs:       make(map[chan Record]struct{}),
		done:       make(chan struct{}),
		bufferSize: size,
	}
}

// Append stores a record and delivers it to every subscriber. Delivery
// never blocks: a subscriber whose buffer is full misses the record.
func (l *Log) Append(op Operation, datasetType string, id dataid.DataID, locations []string) Record {
	rec := Record{
		Operation:   op,
		DatasetType: datasetType,
		DataID:      id.Clone(),
		Locations:   append([]string(nil), locations...),
		Timestamp:   time.Now(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	log.Info(log.CatButler, "provenance", "op", string(op), "datasetType", datasetType,
		"dataId", rec.DataID.String(), "locations", strings.Join(rec.Locations, ","))

	select {
	case <-l.done:
		return rec
	default:
	}
	for sub := range l.subs {
		select {
		case sub <- rec:
		default:
			log.Warn(log.CatButler, "Dropped provenance record for slow subscriber", "op", string(op))
		}
	}
	return rec
}

// Records returns a copy of every record so far, oldest first.
func (l *Log) Records() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Record(nil), l.records...)
}

// Len returns the number of records.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Subscribe returns a channel receiving records appended from now on. The
// channel is closed when ctx is cancelled or the log is closed.
func (l *Log) Subscribe(ctx context.Context) <-chan Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	select {
	case <-l.done:
		ch := make(chan Record)
		close(ch)
		return ch
	default:
	}

	sub := make(chan Record, l.bufferSize)
	l.subs[sub] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
		case <-l.done:
			return
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		if _, ok := l.subs[sub]; ok {
			delete(l.subs, sub)
			close(sub)
		}
	}()
	return sub
}

// SubscriberCount returns the number of active subscribers.
func (l *Log) SubscriberCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs)
}

// Close closes every subscriber channel. Records appended afterwards are
// kept but not delivered.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	select {
	case <-l.done:
		return
	default:
	}
	close(l.done)
	for sub := range l.subs {
		close(sub)
	}
	l.subs = make(map[chan Record]struct{})
}
