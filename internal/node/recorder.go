package node

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"mesh-ctl-client/internal/ctl"
	"mesh-ctl-client/internal/store"
)

// StatusStore is the part of the store the recorder writes to.
type StatusStore interface {
	SaveStatus(rec *store.StatusRecord) error
}

// Recorder persists the last host event per type and source. Writes happen
// on the recorder goroutine so the node loop never waits on disk.
type Recorder struct {
	store  StatusStore
	logger *slog.Logger
	ch     chan *store.StatusRecord
	now    func() time.Time
}

const recorderQueue = 64

// NewRecorder creates a recorder and subscribes it to bus.
func NewRecorder(bus *EventBus, st StatusStore, logger *slog.Logger) *Recorder {
	r := &Recorder{
		store:  st,
		logger: logger.With("component", "recorder"),
		ch:     make(chan *store.StatusRecord, recorderQueue),
		now:    time.Now,
	}
	bus.OnAll(r.handle)
	return r
}

func (r *Recorder) handle(e Event) {
	ev, ok := e.Data.(*ctl.HostEvent)
	if !ok {
		return
	}
	data, err := json.Marshal(ev.Data)
	if err != nil {
		r.logger.Warn("marshal status", "type", ev.Type, "err", err)
		return
	}
	rec := &store.StatusRecord{
		Type:       ev.Type,
		Opcode:     ev.Opcode,
		Src:        ev.Header.Src,
		AppKeyIdx:  ev.Header.AppKeyIdx,
		ElementIdx: ev.Header.ElementIdx,
		Data:       data,
		ReceivedAt: r.now(),
	}
	select {
	case r.ch <- rec:
	default:
		r.logger.Warn("recorder queue full, status dropped", "type", ev.Type, "src", ev.Header.Src)
	}
}

// Run writes queued records until ctx is cancelled, then flushes what is
// left.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case rec := <-r.ch:
			r.save(rec)
		case <-ctx.Done():
			for {
				select {
				case rec := <-r.ch:
					r.save(rec)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) save(rec *store.StatusRecord) {
	if err := r.store.SaveStatus(rec); err != nil {
		r.logger.Error("save status", "type", rec.Type, "src", rec.Src, "err", err)
	}
}
