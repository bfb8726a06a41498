package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/osa911/fastcaddy/internal/caddy"
	"github.com/osa911/fastcaddy/internal/logging"
)

// RouteStore is the part of the Caddy client the safe layer needs.
// *caddy.Client implements it.
type RouteStore interface {
	HasID(ctx context.Context, id string) (bool, error)
	AddReverseProxy(ctx context.Context, domain, target string) error
	AddWildcardRoute(ctx context.Context, base string) error
	AddSubReverseProxy(ctx context.Context, base, sub string, ports []string, host string) error
	DeleteRoute(ctx context.Context, id string) error
}

// AddMode says what to do when the route id already exists.
type AddMode int

const (
	// FailIfExists leaves an existing route untouched and reports OutcomeExists.
	FailIfExists AddMode = iota
	// Replace deletes the existing route and adds the new one (force update).
	Replace
)

func (m AddMode) String() string {
	if m == Replace {
		return "replace"
	}
	return "fail-if-exists"
}

// Outcome is the result of a safe operation. Absence and duplicates are
// outcomes, not errors.
type Outcome int

const (
	OutcomeApplied      Outcome = iota // the store was changed as requested
	OutcomeNoop                        // nothing to do, e.g. deleting an absent route
	OutcomeExists                      // add refused because the id exists
	OutcomeConflict                    // the store rejected a duplicate id
	OutcomeNotFound                    // the store lost the route between check and act
	OutcomeRejected                    // invalid input or other client error
	OutcomeVerifyFailed                // delete acknowledged, route still present
)

var outcomeNames = map[Outcome]string{
	OutcomeApplied:      "applied",
	OutcomeNoop:         "noop",
	OutcomeExists:       "exists",
	OutcomeConflict:     "conflict",
	OutcomeNotFound:     "not-found",
	OutcomeRejected:     "rejected",
	OutcomeVerifyFailed: "verify-failed",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result describes one safe operation.
type Result struct {
	ID      string
	Outcome Outcome
	// Err is the absorbed store error for unsuccessful outcomes.
	Err error
}

// OK is the boolean outcome callers act on.
func (r Result) OK() bool {
	return r.Outcome == OutcomeApplied || r.Outcome == OutcomeNoop
}

// RouteService wraps route mutations with existence checks and post-delete
// verification.
//
// Every method returns a non-nil error only when the store was unreachable
// (caddy.ErrStoreUnavailable, unmodified); any other failure is reported
// in the Result. Checks and actions are separate requests, so a concurrent
// writer can still slip in between them; nothing here locks the store.
type RouteService interface {
	Check(ctx context.Context, id string) (bool, error)
	SafeAdd(ctx context.Context, domain, target string, mode AddMode) (Result, error)
	Update(ctx context.Context, domain, target string) (Result, error)
	SafeAddWildcard(ctx context.Context, base string, mode AddMode) (Result, error)
	SafeAddSubdomain(ctx context.Context, base, sub string, ports []string, host string, mode AddMode) (Result, error)
	SafeDelete(ctx context.Context, id string) (Result, error)
	BatchCheck(ctx context.Context, ids []string) BatchResult
	BatchAdd(ctx context.Context, targets map[string]string, mode AddMode) BatchResult
	BatchDelete(ctx context.Context, ids []string) BatchResult
}

// RouteServiceOptions tunes the safe layer.
type RouteServiceOptions struct {
	// SettleDelay is waited after a delete before re-checking or re-adding.
	// Caddy applies changes synchronously, but a proxy in front of the admin
	// API or a config reload in progress can lag.
	SettleDelay time.Duration
	// VerifyAttempts bounds the post-delete existence re-checks.
	VerifyAttempts int
	Logger         *logging.Logger
}

type routeService struct {
	store          RouteStore
	logger         *logging.Logger
	settleDelay    time.Duration
	verifyAttempts int
}

// NewRouteService creates a new route service over store
func NewRouteService(store RouteStore, opts RouteServiceOptions) RouteService {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	attempts := opts.VerifyAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &routeService{
		store:          store,
		logger:         logger,
		settleDelay:    opts.SettleDelay,
		verifyAttempts: attempts,
	}
}

func (s *routeService) Check(ctx context.Context, id string) (bool, error) {
	return s.store.HasID(ctx, id)
}

func (s *routeService) SafeAdd(ctx context.Context, domain, target string, mode AddMode) (Result, error) {
	return s.safeCreate(ctx, caddy.PlainRouteID(domain), mode, func(ctx context.Context) error {
		return s.store.AddReverseProxy(ctx, domain, target)
	})
}

func (s *routeService) Update(ctx context.Context, domain, target string) (Result, error) {
	return s.SafeAdd(ctx, domain, target, Replace)
}

func (s *routeService) SafeAddWildcard(ctx context.Context, base string, mode AddMode) (Result, error) {
	return s.safeCreate(ctx, caddy.WildcardRouteID(base), mode, func(ctx context.Context) error {
		return s.store.AddWildcardRoute(ctx, base)
	})
}

func (s *routeService) SafeAddSubdomain(ctx context.Context, base, sub string, ports []string, host string, mode AddMode) (Result, error) {
	return s.safeCreate(ctx, caddy.SubdomainRouteID(base, sub), mode, func(ctx context.Context) error {
		return s.store.AddSubReverseProxy(ctx, base, sub, ports, host)
	})
}

// safeCreate is the check, optional delete, add sequence shared by all route
// shapes. A failed delete aborts before anything is added.
func (s *routeService) safeCreate(ctx context.Context, id string, mode AddMode, create func(context.Context) error) (Result, error) {
	exists, err := s.store.HasID(ctx, id)
	if err != nil {
		return Result{ID: id}, err
	}

	if exists {
		if mode != Replace {
			s.logger.Warn("Route %s already exists, use replace mode to update it", id)
			return Result{ID: id, Outcome: OutcomeExists, Err: fmt.Errorf("route %s: %w", id, caddy.ErrConflict)}, nil
		}

		s.logger.Info("Route %s exists, replacing", id)
		res, err := s.SafeDelete(ctx, id)
		if err != nil {
			return Result{ID: id}, err
		}
		if !res.OK() {
			return res, nil
		}
		if err := s.settle(ctx); err != nil {
			return Result{ID: id}, err
		}
	}

	if err := create(ctx); err != nil {
		return s.absorb(id, err)
	}
	return Result{ID: id, Outcome: OutcomeApplied}, nil
}

func (s *routeService) SafeDelete(ctx context.Context, id string) (Result, error) {
	exists, err := s.store.HasID(ctx, id)
	if err != nil {
		return Result{ID: id}, err
	}
	if !exists {
		s.logger.Debug("Route %s does not exist, nothing to delete", id)
		return Result{ID: id, Outcome: OutcomeNoop}, nil
	}

	// An ErrNotFound here means someone else removed it after the check;
	// verification below still decides the outcome.
	if err := s.store.DeleteRoute(ctx, id); err != nil && !caddy.IsNotFound(err) {
		return s.absorb(id, err)
	}

	for attempt := 1; attempt <= s.verifyAttempts; attempt++ {
		if err := s.settle(ctx); err != nil {
			return Result{ID: id}, err
		}
		stillThere, err := s.store.HasID(ctx, id)
		if err != nil {
			return Result{ID: id}, err
		}
		if !stillThere {
			return Result{ID: id, Outcome: OutcomeApplied}, nil
		}
		s.logger.Debug("Route %s still present after delete (check %d/%d)", id, attempt, s.verifyAttempts)
	}

	s.logger.Error("Route %s still present after %d checks, delete was not applied", id, s.verifyAttempts)
	return Result{
		ID:      id,
		Outcome: OutcomeVerifyFailed,
		Err:     fmt.Errorf("route %s still present after delete: %w", id, caddy.ErrVerification),
	}, nil
}

// absorb turns expected store errors into outcomes and passes unavailability
// through untouched.
func (s *routeService) absorb(id string, err error) (Result, error) {
	switch {
	case caddy.IsUnavailable(err):
		return Result{ID: id}, err
	case caddy.IsConflict(err):
		return Result{ID: id, Outcome: OutcomeConflict, Err: err}, nil
	case caddy.IsNotFound(err):
		return Result{ID: id, Outcome: OutcomeNotFound, Err: err}, nil
	default:
		s.logger.Error("Route %s: %v", id, err)
		return Result{ID: id, Outcome: OutcomeRejected, Err: err}, nil
	}
}

// settle waits SettleDelay unless ctx ends first. A cancelled context is
// reported as store unavailability so it is never mistaken for absence.
func (s *routeService) settle(ctx context.Context) error {
	if s.settleDelay <= 0 {
		return ctxUnavailable(ctx)
	}
	timer := time.NewTimer(s.settleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctxUnavailable(ctx)
	}
}

func ctxUnavailable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &caddy.StoreError{Op: "wait", Err: caddy.ErrStoreUnavailable, Msg: "context done", Cause: err}
	}
	return nil
}

// errorOf returns the error to record for a result, if any.
func errorOf(res Result, err error) error {
	if err != nil {
		return err
	}
	if res.OK() {
		return nil
	}
	if res.Err != nil {
		return res.Err
	}
	return errors.New(res.Outcome.String())
}
