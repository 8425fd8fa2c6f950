package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/arrivals"
	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/config"
	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/logging"
	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/metrics"
)

// bookkeepingTimeout bounds the stats, run record and cleanup writes that follow the
// poll. They run even when the poll itself was cancelled.
const bookkeepingTimeout = 10 * time.Second

// Source returns raw arrival predictions for one (stop, route) pair. Implementations
// swallow their own failures and return an empty slice.
type Source interface {
	Name() string
	Arrivals(ctx context.Context, stopID, routeID int64) []arrivals.RawObservation
}

// Repository is everything a poll run writes to
type Repository interface {
	arrivals.Store
	UpdateDelayStats(ctx context.Context, observations []metrics.DelayObservation) error
	RecordRun(ctx context.Context, report arrivals.RunReport) error
	Cleanup(ctx context.Context, retention time.Duration) error
}

// Poller runs poll cycles over the configured stop list
type Poller struct {
	repo      Repository
	source    Source
	engine    *arrivals.Engine
	stops     []config.StopRoute
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a poller
func New(repo Repository, source Source, stops []config.StopRoute, retention time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		repo:      repo,
		source:    source,
		engine:    arrivals.NewEngine(repo),
		stops:     stops,
		retention: retention,
		logger:    logger.With(slog.String("component", "poller")),
		now:       time.Now,
	}
}

// RunOnce polls every pair in order and processes each batch before fetching the next.
// A store failure ends the run early; the report is recorded either way when the store
// still accepts it. Delay stats and cleanup failures are logged, not returned.
// Stats and the run record are written after a cancellation too, so rows committed
// before shutdown keep their stats.
func (p *Poller) RunOnce(ctx context.Context) (arrivals.RunReport, error) {
	report := arrivals.RunReport{
		RunID:     uuid.New().String(),
		Source:    p.source.Name(),
		StartedAt: p.now().UTC(),
	}
	var total arrivals.Result

	runErr := p.pollPairs(ctx, &report, &total)

	bookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	if err := p.repo.UpdateDelayStats(bookCtx, delayObservations(total.Arrivals)); err != nil {
		p.logger.Warn("failed to update delay stats", slog.String("error", err.Error()))
	}

	report.Fetched = total.Fetched
	report.Validated = total.Validated
	report.Rejected = total.Rejected
	report.Stored = total.Stored
	report.Duplicates = total.Duplicates
	report.FinishedAt = p.now().UTC()
	if runErr != nil {
		report.Error = runErr.Error()
	}

	if err := p.repo.RecordRun(bookCtx, report); err != nil {
		p.logger.Warn("failed to record run", slog.String("error", err.Error()))
	}

	if runErr == nil {
		if err := p.repo.Cleanup(bookCtx, p.retention); err != nil {
			p.logger.Warn("cleanup failed", slog.String("error", err.Error()))
		}
	}

	logging.LogOperation(p.logger, "run completed",
		slog.String("run_id", report.RunID),
		slog.Int("pairs", report.Pairs),
		slog.Int("fetched", report.Fetched),
		slog.Int("validated", report.Validated),
		slog.Int("stored", report.Stored),
		slog.Int("duplicates", report.Duplicates),
		slog.Duration("duration", report.FinishedAt.Sub(report.StartedAt)))

	return report, runErr
}

func (p *Poller) pollPairs(ctx context.Context, report *arrivals.RunReport, total *arrivals.Result) error {
	for _, pair := range p.stops {
		if err := ctx.Err(); err != nil {
			return err
		}

		raws := p.source.Arrivals(ctx, pair.StopID, pair.RouteID)
		report.Pairs++

		result, err := p.engine.Process(ctx, raws)
		total.Add(result)

		for _, rej := range result.Rejections {
			var verr *arrivals.ValidationError
			if errors.As(rej, &verr) {
				p.logger.Debug("dropped observation",
					slog.Int64("stop_id", pair.StopID),
					slog.Int64("route_id", pair.RouteID),
					slog.String("field", verr.Field),
					slog.String("reason", verr.Reason))
			}
		}

		if err != nil {
			p.logger.Error("aborting run",
				slog.Int64("stop_id", pair.StopID),
				slog.String("error", err.Error()))
			return fmt.Errorf("stop %d route %d: %w", pair.StopID, pair.RouteID, err)
		}
	}
	return nil
}

func delayObservations(rows []arrivals.StoredArrival) []metrics.DelayObservation {
	var out []metrics.DelayObservation
	for _, a := range rows {
		if a.DelayMinutes == nil {
			continue
		}
		out = append(out, metrics.DelayObservation{
			RouteID:      a.RouteID,
			DelayMinutes: *a.DelayMinutes,
			ObservedAt:   a.ObservedAt,
		})
	}
	return out
}
