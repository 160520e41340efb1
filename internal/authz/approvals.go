package authz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkoval/phaserun/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Broker is the opaque approval boundary: submit returns an identifier,
// poll returns one of the four contract statuses. No particular transport
// is assumed.
type Broker interface {
	Submit(ctx context.Context, req model.ApprovalRequest) (string, error)
	Poll(ctx context.Context, id string) (model.ApprovalStatus, error)
}

// Registry tracks pending approval requests for one run. It is
// constructor-injected and discarded at run end; there is no ambient global
// state. Terminal statuses are sticky, and duplicate requests for a phase
// whose request is already terminal are no-ops.
type Registry struct {
	broker Broker

	mu       sync.Mutex
	byPhase  map[string]*model.ApprovalRequest
	terminal map[string]model.ApprovalStatus
}

// NewRegistry constructs a per-run registry over the given broker.
func NewRegistry(broker Broker) *Registry {
	return &Registry{
		broker:   broker,
		byPhase:  make(map[string]*model.ApprovalRequest),
		terminal: make(map[string]model.ApprovalStatus),
	}
}

// Request submits an approval request for a phase. A duplicate request for
// a phase with a live or terminal request returns the existing one.
func (r *Registry) Request(ctx context.Context, runID, phaseID, contextTag string, decision model.AuthorizationDecision) (model.ApprovalRequest, error) {
	r.mu.Lock()
	if existing, ok := r.byPhase[phaseID]; ok {
		req := *existing
		r.mu.Unlock()
		log.Debug().Str("phase_id", phaseID).Str("status", string(req.Status)).
			Msg("duplicate approval request ignored")
		return req, nil
	}
	r.mu.Unlock()

	req := model.ApprovalRequest{
		ID:         uuid.NewString(),
		RunID:      runID,
		PhaseID:    phaseID,
		ContextTag: contextTag,
		Decision:   decision,
		Status:     model.ApprovalPending,
	}
	id, err := r.broker.Submit(ctx, req)
	if err != nil {
		return model.ApprovalRequest{}, fmt.Errorf("submit approval request: %w", err)
	}
	if id != "" {
		req.ID = id
	}

	r.mu.Lock()
	r.byPhase[phaseID] = &req
	r.mu.Unlock()
	return req, nil
}

// Poll returns the current status of a request. Once a terminal status has
// been observed it is returned for every subsequent poll without consulting
// the broker again.
func (r *Registry) Poll(ctx context.Context, req model.ApprovalRequest) (model.ApprovalStatus, error) {
	r.mu.Lock()
	if status, ok := r.terminal[req.ID]; ok {
		r.mu.Unlock()
		return status, nil
	}
	r.mu.Unlock()

	status, err := r.broker.Poll(ctx, req.ID)
	if err != nil {
		return model.ApprovalPending, fmt.Errorf("poll approval %s: %w", req.ID, err)
	}
	if status.Terminal() {
		r.mu.Lock()
		r.terminal[req.ID] = status
		if live, ok := r.byPhase[req.PhaseID]; ok && live.ID == req.ID {
			live.Status = status
			now := time.Now().UTC()
			live.RespondedAt = &now
		}
		r.mu.Unlock()
	}
	return status, nil
}

// Await polls until the request reaches a terminal status or the overall
// timeout elapses, in which case it reports ApprovalTimeout. The timed-out
// status is recorded as sticky so later polls agree.
func (r *Registry) Await(ctx context.Context, req model.ApprovalRequest, timeout, interval time.Duration) model.ApprovalStatus {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(timeout)
	for {
		status, err := r.Poll(ctx, req)
		if err != nil {
			log.Warn().Err(err).Str("approval_id", req.ID).Msg("approval poll failed")
		} else if status.Terminal() {
			return status
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			r.mu.Lock()
			if _, ok := r.terminal[req.ID]; !ok {
				r.terminal[req.ID] = model.ApprovalTimeout
			}
			status := r.terminal[req.ID]
			r.mu.Unlock()
			return status
		}
		select {
		case <-ctx.Done():
		case <-time.After(interval):
		}
	}
}
