package accesslog

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder writes access records asynchronously: Record enqueues onto a
// buffered channel and returns immediately; a worker goroutine drains
// the channel into storage. When the buffer is full the record is
// dropped and counted, never blocking a request.
type Recorder struct {
	storage Storage
	records chan *Record

	wg   sync.WaitGroup
	done chan struct{}

	mu      sync.Mutex
	dropped uint64

	logger *slog.Logger
}

// NewRecorder starts a recorder draining into storage. buffer defaults
// to 1000 when zero or negative.
func NewRecorder(storage Storage, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 1000
	}

	r := &Recorder{
		storage: storage,
		records: make(chan *Record, buffer),
		done:    make(chan struct{}),
		logger:  slog.Default().With("component", "accesslog.recorder"),
	}

	r.wg.Add(1)
	go r.worker()

	r.logger.Info("access log recorder started", "buffer", buffer)
	return r
}

// Record enqueues one record. A zero ID or timestamp is filled in.
func (r *Recorder) Record(record *Record) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	select {
	case r.records <- record:
	default:
		r.mu.Lock()
		r.dropped++
		dropped := r.dropped
		r.mu.Unlock()
		r.logger.Warn("access log buffer full, record dropped", "dropped_total", dropped)
	}
}

// Dropped returns how many records were lost to a full buffer.
func (r *Recorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Recent reads back the newest records from storage.
func (r *Recorder) Recent(limit int) ([]*Record, error) {
	return r.storage.Recent(limit)
}

// Close drains pending records and closes the storage.
func (r *Recorder) Close() error {
	close(r.done)
	r.wg.Wait()
	return r.storage.Close()
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case record := <-r.records:
			r.write(record)
		case <-r.done:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case record := <-r.records:
					r.write(record)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(record *Record) {
	if err := r.storage.Write(record); err != nil {
		r.logger.Error("failed to write access record",
			"record_id", record.ID,
			"error", err,
		)
	}
}
