package keys

import (
	"context"
	"sync"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
)

// Registry maps provider ids to backends. It is instance-owned so several
// independent registries can coexist; there is no process-wide singleton.
// Re-registering an id replaces the previous backend (last write wins) and
// closes the one being replaced so sessions do not leak.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]domain.ProviderBackend
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]domain.ProviderBackend)}
}

// Register installs backend under id after initializing it with config. An
// initialization failure registers nothing but never affects other
// registrations.
func (r *Registry) Register(ctx context.Context, id string, backend domain.ProviderBackend, config map[string]string) error {
	if id == "" {
		return domain.NewError(domain.CodeInvalidConfig, "provider id is required")
	}
	if backend == nil {
		return domain.NewError(domain.CodeInvalidConfig, "provider backend is nil")
	}
	if err := backend.Initialize(ctx, config); err != nil {
		return domain.WrapError(domain.CodeInvalidConfig, "initialize provider "+id, err)
	}

	r.mu.Lock()
	previous := r.backends[id]
	r.backends[id] = backend
	r.mu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}
	return nil
}

// Backend resolves a provider id. Unregistered ids are a configuration
// error, never retried.
func (r *Registry) Backend(id string) (domain.ProviderBackend, error) {
	r.mu.RLock()
	backend, ok := r.backends[id]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.Errorf(domain.CodeProviderUnregistered, "no provider registered under id %q", id)
	}
	return backend, nil
}

// Available returns the current provider ids. Order carries no meaning.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.backends))
	for id := range r.backends {
		out = append(out, id)
	}
	return out
}

// Sign routes a digest to the backend named by ref.
func (r *Registry) Sign(ctx context.Context, ref domain.SigningKeyRef, digest []byte, alg domain.SignatureAlgorithm) ([]byte, error) {
	backend, err := r.Backend(ref.Provider)
	if err != nil {
		return nil, err
	}
	return backend.Sign(ctx, ref, digest, alg)
}

// PublicKey routes a public key lookup to the backend named by ref.
func (r *Registry) PublicKey(ctx context.Context, ref domain.SigningKeyRef) (any, error) {
	backend, err := r.Backend(ref.Provider)
	if err != nil {
		return nil, err
	}
	return backend.PublicKey(ctx, ref)
}

// Close shuts down every registered backend. Errors are collected per
// backend; the first one is returned.
func (r *Registry) Close() error {
	r.mu.Lock()
	backends := r.backends
	r.backends = make(map[string]domain.ProviderBackend)
	r.mu.Unlock()

	var first error
	for _, backend := range backends {
		if err := backend.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
