// Package poller periodically pulls satellite messages from the upstream
// provider, stores them once each, and feeds new ones to the ingestor.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chrissnell/riverapi/internal/astrocast"
	"github.com/chrissnell/riverapi/internal/ingest"
	"github.com/chrissnell/riverapi/internal/payload"
	"github.com/chrissnell/riverapi/internal/types"
	"go.uber.org/zap"
)

// MessageSource fetches upstream messages
type MessageSource interface {
	Messages(ctx context.Context, since *time.Time) ([]astrocast.Message, error)
}

// MessageStore persists raw messages and reports the newest one
type MessageStore interface {
	LastReceivedAt(ctx context.Context) (*time.Time, error)
	// InsertRawMessage returns false when the message is already stored
	InsertRawMessage(ctx context.Context, msg *types.RawMessage) (bool, error)
}

// Ingester processes a newly stored message
type Ingester interface {
	IngestMessage(ctx context.Context, msg types.RawMessage) (*ingest.Result, error)
}

// Status is a snapshot of the poller for reporting
type Status struct {
	Polling    bool       `json:"is_polling"`
	Interval   string     `json:"interval"`
	LastPollAt *time.Time `json:"last_polling_time,omitempty"`
	NextPollAt *time.Time `json:"next_polling_time,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	Fetched    int        `json:"messages_fetched"`
	Stored     int        `json:"messages_stored"`
	Duplicates int        `json:"messages_duplicate"`
	Ingested   int        `json:"messages_ingested"`
	Failed     int        `json:"messages_failed"`
	PollCount  int        `json:"poll_count"`
	RetryCount int        `json:"retry_count"`
}

// PollResult summarizes one poll
type PollResult struct {
	Fetched    int
	Stored     int
	Duplicates int
	Ingested   int
	Failed     int
}

// Poller pulls messages on a fixed interval. Polls never overlap.
type Poller struct {
	source   MessageSource
	store    MessageStore
	ingester Ingester
	backoff  Backoff
	interval time.Duration
	logger   *zap.SugaredLogger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu     sync.RWMutex
	status Status
}

// New creates a poller. ingester may be nil to only archive messages.
func New(source MessageSource, store MessageStore, ingester Ingester, interval time.Duration, backoff Backoff, logger *zap.SugaredLogger) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		source:   source,
		store:    store,
		ingester: ingester,
		backoff:  backoff,
		interval: interval,
		logger:   logger,
		sleep:    sleep,
		now:      func() time.Time { return time.Now().UTC() },
		status:   Status{Interval: interval.String()},
	}
}

// Start runs the poll loop in a goroutine tracked by wg
func (p *Poller) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Run(ctx)
	}()
}

// Run polls for new messages until ctx is cancelled
func (p *Poller) Run(ctx context.Context) {
	p.logger.Infof("starting message poller with interval %v", p.interval)
	for {
		if _, err := p.PollOnce(ctx, true); err != nil {
			p.logger.Info("cancellation request received. stopping message poller")
			return
		}
		if err := p.sleep(ctx, p.interval); err != nil {
			p.logger.Info("cancellation request received. stopping message poller")
			return
		}
	}
}

// Status returns a copy of the current poller status
func (p *Poller) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// PollOnce fetches messages once, retrying upstream failures until they
// succeed. With onlyNew, only messages received since the newest stored
// message are requested. The only error returned is ctx's.
func (p *Poller) PollOnce(ctx context.Context, onlyNew bool) (PollResult, error) {
	started := p.now()
	p.mu.Lock()
	p.status.Polling = true
	p.status.LastPollAt = &started
	p.mu.Unlock()

	defer func() {
		next := p.now().Add(p.interval)
		p.mu.Lock()
		p.status.Polling = false
		p.status.NextPollAt = &next
		p.status.PollCount++
		p.mu.Unlock()
	}()

	msgs, err := p.fetch(ctx, onlyNew)
	if err != nil {
		return PollResult{}, err
	}

	p.logger.Infof("received %d messages", len(msgs))
	res := PollResult{Fetched: len(msgs)}

	for _, m := range msgs {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		p.handle(ctx, m, started, &res)
	}

	p.mu.Lock()
	p.status.Fetched += res.Fetched
	p.status.Stored += res.Stored
	p.status.Duplicates += res.Duplicates
	p.status.Ingested += res.Ingested
	p.status.Failed += res.Failed
	p.mu.Unlock()

	return res, nil
}

func (p *Poller) fetch(ctx context.Context, onlyNew bool) ([]astrocast.Message, error) {
	for attempt := 0; ; attempt++ {
		msgs, err := p.fetchOnce(ctx, onlyNew)
		if err == nil {
			p.setLastError("")
			return msgs, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		wait := p.backoff.Duration(attempt)
		p.logger.Warnw("message poll failed, retrying", "attempt", attempt+1, "wait", wait, "error", err)
		p.setLastError(err.Error())
		p.mu.Lock()
		p.status.RetryCount++
		p.mu.Unlock()

		if err := p.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (p *Poller) fetchOnce(ctx context.Context, onlyNew bool) ([]astrocast.Message, error) {
	var since *time.Time
	if onlyNew {
		last, err := p.store.LastReceivedAt(ctx)
		if err != nil {
			return nil, err
		}
		since = last
	}
	return p.source.Messages(ctx, since)
}

func (p *Poller) handle(ctx context.Context, m astrocast.Message, requestedAt time.Time, res *PollResult) {
	msg := types.RawMessage{
		MessageGUID:            m.MessageGUID,
		DeviceGUID:             m.DeviceGUID,
		CreatedDate:            m.CreatedDate.UTC(),
		ReceivedDate:           m.ReceivedDate.UTC(),
		RequestedAt:            requestedAt,
		Latitude:               m.Latitude,
		Longitude:              m.Longitude,
		Data:                   m.Data,
		MessageSize:            m.MessageSize,
		CallbackDeliveryStatus: m.CallbackDeliveryStatus,
	}

	inserted, err := p.store.InsertRawMessage(ctx, &msg)
	if err != nil {
		p.logger.Errorw("error adding message to database", "message", m.MessageGUID, "error", err)
		res.Failed++
		return
	}
	if !inserted {
		p.logger.Infow("message already stored, skipping", "message", m.MessageGUID)
		res.Duplicates++
		return
	}
	res.Stored++

	if p.ingester == nil {
		return
	}

	result, err := p.ingester.IngestMessage(ctx, msg)
	switch {
	case err == nil:
		res.Ingested++
		p.logger.Debugw("message ingested", "message", m.MessageGUID, "readings", len(result.Readings))
	case errors.Is(err, ingest.ErrUnknownStation):
		res.Failed++
		p.logger.Warnw("message from device without a station", "message", m.MessageGUID, "device", m.DeviceGUID)
	case errors.Is(err, payload.ErrMalformedTimestamp), errors.Is(err, payload.ErrMisalignedPayload), errors.Is(err, payload.ErrUndecodable):
		res.Failed++
		p.logger.Errorw("malformed station payload", "message", m.MessageGUID, "device", m.DeviceGUID, "error", err)
	default:
		res.Failed++
		p.logger.Errorw("error ingesting message", "message", m.MessageGUID, "error", err)
	}
}

func (p *Poller) setLastError(s string) {
	p.mu.Lock()
	p.status.LastError = s
	p.mu.Unlock()
}
