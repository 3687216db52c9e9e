package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"dispatch/internal/config"
	"dispatch/internal/domain"
	"dispatch/internal/observability"
	"dispatch/internal/repository"
)

// offerEvent resumes a dispatch session waiting on a driver response.
type offerEvent struct {
	outcome domain.OfferOutcome
	version int64
}

// session is one running dispatch state machine. The goroutine behind
// it suspends on the events channel while an offer is outstanding, so a
// slow driver never holds anything but the channel.
type session struct {
	tripID string
	events chan offerEvent
	cancel context.CancelFunc
}

// nonTerminalStates are the states a session may still transition out of.
var nonTerminalStates = []domain.TripState{
	domain.TripStateCreated,
	domain.TripStateDispatching,
	domain.TripStateOffered,
}

// Coordinator drives trip requests from creation to a terminal state:
// it pulls candidates from the matcher, claims offers in the ledger one
// driver at a time, and reacts to accept/decline/timeout events. Each
// trip gets its own session goroutine; sessions are independent of each
// other.
type Coordinator struct {
	tripRepo   repository.TripRepository
	driverRepo repository.DriverRepository
	ledger     repository.OfferLedger
	matcher    MatcherInterface
	drivers    DriverNotifier
	customers  CustomerNotifier
	cfg        config.DispatchConfig
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewCoordinator creates a new Coordinator.
func NewCoordinator(
	tripRepo repository.TripRepository,
	driverRepo repository.DriverRepository,
	ledger repository.OfferLedger,
	matcher MatcherInterface,
	drivers DriverNotifier,
	customers CustomerNotifier,
	cfg config.DispatchConfig,
	logger *slog.Logger,
) *Coordinator {
	rootCtx, rootCancel := context.WithCancel(context.Background())
	return &Coordinator{
		tripRepo:   tripRepo,
		driverRepo: driverRepo,
		ledger:     ledger,
		matcher:    matcher,
		drivers:    drivers,
		customers:  customers,
		cfg:        cfg,
		logger:     logger,
		sessions:   make(map[string]*session),
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
	}
}

// StartDispatch begins a dispatch session for a newly created trip.
// The session runs until the trip reaches a terminal state.
func (c *Coordinator) StartDispatch(trip *domain.TripRequest) error {
	c.mu.Lock()
	if _, ok := c.sessions[trip.ID]; ok {
		c.mu.Unlock()
		return ErrDispatchAlreadyRunning
	}

	ctx, cancel := context.WithCancel(c.rootCtx)
	s := &session{
		tripID: trip.ID,
		// Buffered so a cancel arriving while the session is ranking
		// (not waiting on an offer) never blocks the caller.
		events: make(chan offerEvent, 4),
		cancel: cancel,
	}
	c.sessions[trip.ID] = s
	c.mu.Unlock()

	c.wg.Add(1)
	go c.runSession(ctx, s, trip)
	return nil
}

// Shutdown stops all sessions and waits for them to unwind. Pending
// offers stay in the ledger; a restarted process's sweeper expires them.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.rootCancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AcceptOffer handles a driver accepting the offer (tripID, version).
// The accept is honored only against the currently active offer; a
// stale version is rejected with ErrStaleOffer and has no side effect.
func (c *Coordinator) AcceptOffer(ctx context.Context, tripID, driverID string, version int64) (*domain.TripRequest, error) {
	if _, err := c.validateResponse(ctx, tripID, driverID, version); err != nil {
		return nil, err
	}

	if err := c.ledger.Resolve(ctx, tripID, version, domain.OfferOutcomeAccepted); err != nil {
		if errors.Is(err, repository.ErrVersionMismatch) {
			// Lost the race against the sweeper or a concurrent
			// resolution; the trip has moved on.
			observability.StaleActions.Inc()
			return nil, ErrStaleOffer
		}
		return nil, err
	}

	if err := c.tripRepo.Assign(ctx, tripID, driverID, nonTerminalStates); err != nil {
		return nil, err
	}

	if err := c.driverRepo.UpdateStatus(ctx, driverID, domain.DriverStatusOnJob); err != nil && !errors.Is(err, repository.ErrNotFound) {
		c.logger.Warn("driver status update failed", "driver_id", driverID, "error", err)
	}

	observability.OffersAccepted.Inc()
	c.postEvent(tripID, offerEvent{outcome: domain.OfferOutcomeAccepted, version: version})

	c.logger.Info("offer accepted", "trip_id", tripID, "driver_id", driverID, "version", version)

	return c.tripRepo.GetByID(ctx, tripID)
}

// DeclineOffer handles a driver declining the offer (tripID, version).
// The session advances to the next candidate.
func (c *Coordinator) DeclineOffer(ctx context.Context, tripID, driverID string, version int64) error {
	if _, err := c.validateResponse(ctx, tripID, driverID, version); err != nil {
		return err
	}

	if err := c.ledger.Resolve(ctx, tripID, version, domain.OfferOutcomeDeclined); err != nil {
		if errors.Is(err, repository.ErrVersionMismatch) {
			observability.StaleActions.Inc()
			return ErrStaleOffer
		}
		return err
	}

	observability.OffersDeclined.Inc()
	c.postEvent(tripID, offerEvent{outcome: domain.OfferOutcomeDeclined, version: version})

	c.logger.Info("offer declined", "trip_id", tripID, "driver_id", driverID, "version", version)
	return nil
}

// HandleExpiry resolves an offer past its deadline and advances the
// session, with the same effect as a decline. Called by the sweeper.
// Losing the race against a concurrent accept is normal: the resolve
// returns a version mismatch and the sweep is a no-op.
func (c *Coordinator) HandleExpiry(ctx context.Context, offer *domain.Offer) {
	err := c.ledger.Resolve(ctx, offer.TripID, offer.Version, domain.OfferOutcomeExpired)
	if err != nil {
		if errors.Is(err, repository.ErrVersionMismatch) {
			c.logger.Debug("expiry sweep lost resolution race", "trip_id", offer.TripID, "version", offer.Version)
			return
		}
		c.logger.Error("expiry resolve failed", "trip_id", offer.TripID, "version", offer.Version, "error", err)
		return
	}

	observability.OffersExpired.Inc()
	c.postEvent(offer.TripID, offerEvent{outcome: domain.OfferOutcomeExpired, version: offer.Version})

	c.logger.Info("offer expired", "trip_id", offer.TripID, "driver_id", offer.DriverID, "version", offer.Version)
}

// CancelTrip cancels a trip on behalf of the customer. Any active offer
// is resolved so the offered driver is released promptly.
func (c *Coordinator) CancelTrip(ctx context.Context, tripID, reason string) error {
	if tripID == "" {
		return ErrInvalidTripID
	}

	if err := c.tripRepo.Cancel(ctx, tripID, reason); err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			return ErrTripAlreadyTerminal
		}
		return err
	}

	if offer, err := c.ledger.ActiveOffer(ctx, tripID); err == nil {
		if err := c.ledger.Resolve(ctx, tripID, offer.Version, domain.OfferOutcomeCancelled); err != nil && !errors.Is(err, repository.ErrVersionMismatch) {
			c.logger.Error("cancel resolve failed", "trip_id", tripID, "error", err)
		}
		c.postEvent(tripID, offerEvent{outcome: domain.OfferOutcomeCancelled, version: offer.Version})
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	c.logger.Info("trip cancelled", "trip_id", tripID, "reason", reason)
	return nil
}

// validateResponse checks a driver response against the active offer.
func (c *Coordinator) validateResponse(ctx context.Context, tripID, driverID string, version int64) (*domain.Offer, error) {
	if tripID == "" {
		return nil, ErrInvalidTripID
	}
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}

	offer, err := c.ledger.ActiveOffer(ctx, tripID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			observability.StaleActions.Inc()
			return nil, ErrNoActiveOffer
		}
		return nil, err
	}

	if offer.DriverID != driverID {
		observability.StaleActions.Inc()
		return nil, ErrOfferNotForDriver
	}
	if offer.Version != version {
		observability.StaleActions.Inc()
		return nil, ErrStaleOffer
	}

	return offer, nil
}

// postEvent delivers an event to a running session, if any. A missing
// session (trip already terminal, or process restarted) is fine: the
// ledger and the guarded trip transitions are the ground truth.
func (c *Coordinator) postEvent(tripID string, ev offerEvent) {
	c.mu.Lock()
	s, ok := c.sessions[tripID]
	c.mu.Unlock()
	if !ok {
		return
	}

	select {
	case s.events <- ev:
	default:
		c.logger.Warn("session event buffer full", "trip_id", tripID)
	}
}

func (c *Coordinator) unregister(tripID string) {
	c.mu.Lock()
	if s, ok := c.sessions[tripID]; ok {
		s.cancel()
		delete(c.sessions, tripID)
	}
	c.mu.Unlock()
}

// runSession steps one trip through the dispatch state machine.
func (c *Coordinator) runSession(ctx context.Context, s *session, trip *domain.TripRequest) {
	defer c.wg.Done()
	defer c.unregister(s.tripID)

	observability.ActiveSessions.Inc()
	defer observability.ActiveSessions.Dec()

	start := time.Now()
	defer func() { observability.DispatchDuration.Observe(time.Since(start).Seconds()) }()

	globalDeadline := time.NewTimer(c.cfg.GlobalTimeout)
	defer globalDeadline.Stop()

	tried := make(map[string]bool)

	for {
		// DISPATCHING: the guard fails if the trip went terminal behind
		// our back (customer cancellation), which ends the session.
		if err := c.tripRepo.UpdateState(ctx, s.tripID, nonTerminalStates, domain.TripStateDispatching); err != nil {
			if errors.Is(err, repository.ErrStateConflict) || errors.Is(err, repository.ErrNotFound) {
				c.logger.Info("session ended by external transition", "trip_id", s.tripID)
				return
			}
			if !c.pause(ctx, s, globalDeadline) {
				return
			}
			continue
		}

		candidates, err := c.matcher.Rank(ctx, trip, tried)
		if err != nil {
			c.logger.Error("candidate ranking failed", "trip_id", s.tripID, "error", err)
			if !c.pause(ctx, s, globalDeadline) {
				return
			}
			continue
		}

		if len(candidates) == 0 && c.cfg.RetryExhausted && len(tried) > 0 {
			// Queue exhausted: re-rank from a fresh snapshot with the
			// tried set cleared, per the requeue policy.
			tried = make(map[string]bool)
			candidates, err = c.matcher.Rank(ctx, trip, tried)
			if err != nil {
				c.logger.Error("candidate ranking failed", "trip_id", s.tripID, "error", err)
				if !c.pause(ctx, s, globalDeadline) {
					return
				}
				continue
			}
		}

		if len(candidates) == 0 {
			c.finalize(ctx, s.tripID, domain.TripStateNoDrivers, "")
			return
		}

		for _, cand := range candidates {
			select {
			case <-globalDeadline.C:
				c.finalize(ctx, s.tripID, domain.TripStateExpired, "")
				return
			case <-ctx.Done():
				return
			default:
			}

			tried[cand.DriverID] = true

			offer, err := c.tryClaim(ctx, s.tripID, cand.DriverID)
			if errors.Is(err, repository.ErrDriverClaimed) {
				// Lost the driver to a concurrent session; never retry
				// the same driver in this pass.
				observability.ClaimConflicts.Inc()
				c.logger.Debug("claim lost", "trip_id", s.tripID, "driver_id", cand.DriverID)
				continue
			}
			if err != nil {
				c.logger.Error("offer claim failed", "trip_id", s.tripID, "driver_id", cand.DriverID, "error", err)
				if !c.pause(ctx, s, globalDeadline) {
					return
				}
				break
			}

			done, ok := c.awaitResponse(ctx, s, trip, offer, globalDeadline)
			if done {
				return
			}
			if !ok {
				// Offer could not be extended; next candidate.
				continue
			}
		}
		// Queue exhausted without an accept; loop re-ranks from a
		// fresh snapshot so drivers who went offline mid-session drop
		// out.
	}
}

// awaitResponse extends the claimed offer and suspends until it is
// resolved. Returns done=true when the session is over, ok=false when
// the offer never became active and the session should advance.
func (c *Coordinator) awaitResponse(ctx context.Context, s *session, trip *domain.TripRequest, offer *domain.Offer, globalDeadline *time.Timer) (done, ok bool) {
	if err := c.tripRepo.UpdateState(ctx, s.tripID, nonTerminalStates, domain.TripStateOffered); err != nil {
		// Trip went terminal between claim and transition; release the
		// driver and stop.
		if resolveErr := c.ledger.Resolve(ctx, s.tripID, offer.Version, domain.OfferOutcomeCancelled); resolveErr != nil && !errors.Is(resolveErr, repository.ErrVersionMismatch) {
			c.logger.Error("offer release failed", "trip_id", s.tripID, "error", resolveErr)
		}
		return true, false
	}

	observability.OffersExtended.Inc()
	c.logger.Info("offer extended",
		"trip_id", s.tripID,
		"driver_id", offer.DriverID,
		"version", offer.Version,
		"deadline", offer.Deadline,
	)

	if err := c.drivers.NotifyDriverOfOffer(ctx, offer.DriverID, s.tripID, offer.Deadline); err != nil {
		// Best effort: the driver app can still poll its active offer,
		// and the sweeper bounds the wait either way.
		c.logger.Warn("driver notification failed", "trip_id", s.tripID, "driver_id", offer.DriverID, "error", err)
	}

	for {
		select {
		case ev := <-s.events:
			if ev.version != offer.Version && ev.outcome != domain.OfferOutcomeCancelled {
				// Late event for a previous offer; keep waiting.
				continue
			}
			switch ev.outcome {
			case domain.OfferOutcomeAccepted:
				c.finalize(ctx, s.tripID, domain.TripStateAssigned, offer.DriverID)
				return true, true
			case domain.OfferOutcomeCancelled:
				return true, true
			default:
				// Declined or expired: advance to the next candidate.
				return false, true
			}
		case <-globalDeadline.C:
			if err := c.ledger.Resolve(ctx, s.tripID, offer.Version, domain.OfferOutcomeExpired); err != nil && !errors.Is(err, repository.ErrVersionMismatch) {
				c.logger.Error("deadline resolve failed", "trip_id", s.tripID, "error", err)
			}
			c.finalize(ctx, s.tripID, domain.TripStateExpired, "")
			return true, true
		case <-ctx.Done():
			return true, false
		}
	}
}

// tryClaim claims a driver in the ledger, retrying with backoff on
// storage errors. Claim rejections are returned immediately.
func (c *Coordinator) tryClaim(ctx context.Context, tripID, driverID string) (*domain.Offer, error) {
	deadline := time.Now().Add(c.cfg.OfferTimeout)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.ClaimRetryMax; attempt++ {
		offer, err := c.ledger.TryClaim(ctx, tripID, driverID, deadline)
		if err == nil {
			return offer, nil
		}
		if errors.Is(err, repository.ErrDriverClaimed) || errors.Is(err, repository.ErrTripOfferActive) {
			return nil, err
		}
		lastErr = err

		select {
		case <-time.After(c.cfg.ClaimRetryBackoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// pause backs off after a transient failure. Returns false when the
// session should stop (shutdown or global deadline).
func (c *Coordinator) pause(ctx context.Context, s *session, globalDeadline *time.Timer) bool {
	select {
	case <-time.After(c.cfg.ClaimRetryBackoff):
		return true
	case <-globalDeadline.C:
		c.finalize(ctx, s.tripID, domain.TripStateExpired, "")
		return false
	case <-ctx.Done():
		return false
	}
}

// finalize records a terminal state and notifies the customer. The
// ASSIGNED transition was already written by the accept handler; for
// that case this only emits the notification and metrics.
func (c *Coordinator) finalize(ctx context.Context, tripID string, state domain.TripState, driverID string) {
	if state != domain.TripStateAssigned {
		if err := c.tripRepo.UpdateState(ctx, tripID, nonTerminalStates, state); err != nil {
			if !errors.Is(err, repository.ErrStateConflict) {
				c.logger.Error("terminal transition failed", "trip_id", tripID, "state", state, "error", err)
			}
			return
		}
	}

	observability.TripsTerminal.WithLabelValues(string(state)).Inc()

	if err := c.customers.NotifyCustomerOfOutcome(ctx, tripID, state, driverID); err != nil {
		c.logger.Warn("customer notification failed", "trip_id", tripID, "error", err)
	}

	c.logger.Info("dispatch finished", "trip_id", tripID, "state", state, "driver_id", driverID)
}
