// Package session tracks the live views each principal holds so that
// signing out can release all of them at once.
package session

import (
	"context"
	"sync"

	"github.com/spec-kit/breakdown-service/internal/domain"
	"github.com/spec-kit/breakdown-service/internal/projector"
)

// Attacher opens projector subscriptions.
type Attacher interface {
	Attach(ctx context.Context, principal domain.Principal, scope projector.Scope) (*projector.Subscription, error)
}

// Registry owns the subscriptions opened through it.
type Registry struct {
	attacher Attacher

	mu   sync.Mutex
	subs map[string]map[*projector.Subscription]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(attacher Attacher) *Registry {
	return &Registry{
		attacher: attacher,
		subs:     make(map[string]map[*projector.Subscription]struct{}),
	}
}

// Open attaches a view and records it under the principal.
func (r *Registry) Open(ctx context.Context, principal domain.Principal, scope projector.Scope) (*projector.Subscription, error) {
	sub, err := r.attacher.Attach(ctx, principal, scope)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	set, ok := r.subs[principal.ID]
	if !ok {
		set = make(map[*projector.Subscription]struct{})
		r.subs[principal.ID] = set
	}
	set[sub] = struct{}{}
	r.mu.Unlock()

	go func() {
		<-sub.Done()
		r.forget(principal.ID, sub)
	}()
	return sub, nil
}

// Release closes one subscription. Releasing twice is a no-op.
func (r *Registry) Release(sub *projector.Subscription) {
	if sub == nil {
		return
	}
	sub.Close()
	r.forget(sub.Principal().ID, sub)
}

// DetachAll closes every subscription held by the principal and returns how many were open.
func (r *Registry) DetachAll(principalID string) int {
	r.mu.Lock()
	set := r.subs[principalID]
	delete(r.subs, principalID)
	r.mu.Unlock()

	for sub := range set {
		sub.Close()
	}
	return len(set)
}

// Count returns the number of open subscriptions of the principal.
func (r *Registry) Count(principalID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[principalID])
}

// Close releases every subscription.
func (r *Registry) Close() {
	r.mu.Lock()
	all := r.subs
	r.subs = make(map[string]map[*projector.Subscription]struct{})
	r.mu.Unlock()

	for _, set := range all {
		for sub := range set {
			sub.Close()
		}
	}
}

func (r *Registry) forget(principalID string, sub *projector.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subs[principalID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(r.subs, principalID)
	}
}
