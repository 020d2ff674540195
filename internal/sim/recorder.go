package sim

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/signalsfoundry/handover-simulator/model"
)

// OutcomeObserver receives each record as it is emitted, in addition to the
// recorder's own retention. The metrics collector plugs in here.
type OutcomeObserver interface {
	ObserveOutcome(rec model.OutcomeRecord)
}

// Recorder is the append-only sink for handover outcome records. It is
// safe for concurrent use so parallel Monte Carlo replicas can share one,
// though a single run appends from one goroutine only.
type Recorder struct {
	mu        sync.Mutex
	records   []model.OutcomeRecord
	observers []OutcomeObserver
}

// NewRecorder creates an empty recorder fanning out to the given observers.
func NewRecorder(observers ...OutcomeObserver) *Recorder {
	return &Recorder{observers: observers}
}

// Observe appends one outcome record.
func (r *Recorder) Observe(rec model.OutcomeRecord) {
	r.mu.Lock()
	r.records = append(r.records, rec)
	observers := r.observers
	r.mu.Unlock()

	for _, o := range observers {
		o.ObserveOutcome(rec)
	}
}

// Records returns a copy of everything recorded so far, in emission order.
func (r *Recorder) Records() []model.OutcomeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.OutcomeRecord, len(r.records))
	copy(out, r.records)
	return out
}

// Len returns the number of records held.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// WriteCSV writes the held records as CSV with a header row. Durations are
// reported in milliseconds with sub-millisecond precision preserved.
func (r *Recorder) WriteCSV(w io.Writer) error {
	return WriteRecordsCSV(w, r.Records())
}

// WriteRecordsCSV writes outcome records as CSV with a header row.
func WriteRecordsCSV(w io.Writer, records []model.OutcomeRecord) error {
	cw := csv.NewWriter(w)
	header := []string{"user_id", "protocol", "interruption_ms", "total_latency_ms", "success", "reason"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			rec.UserID,
			string(rec.Protocol),
			formatMillis(rec.Interruption),
			formatMillis(rec.TotalLatency),
			strconv.FormatBool(rec.Success),
			rec.Reason,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatMillis(d time.Duration) string {
	return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', -1, 64)
}
