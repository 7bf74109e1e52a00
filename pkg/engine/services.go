package engine

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/getnvoi/conveyor/pkg/errors"
)

// Service is something a call step can invoke.
type Service interface {
	Call(ctx context.Context, method string, input map[string]any) (any, error)
}

// ServiceFunc adapts a function to the Service interface.
type ServiceFunc func(ctx context.Context, method string, input map[string]any) (any, error)

// Call implements Service.
func (f ServiceFunc) Call(ctx context.Context, method string, input map[string]any) (any, error) {
	return f(ctx, method, input)
}

// ServiceResolver maps a service name to a callable. The engine accepts
// any resolver at configuration time; the default consults the
// process-wide registry.
type ServiceResolver func(name string) (Service, error)

// ServiceRegistry is a name -> Service table, read-only after
// configuration. Services may carry a rate limit applied before every
// invocation.
type ServiceRegistry struct {
	mu       sync.RWMutex
	services map[string]Service
}

// NewServiceRegistry creates an empty service registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{services: make(map[string]Service)}
}

// Register adds a service under a name, replacing any previous one.
func (r *ServiceRegistry) Register(name string, svc Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[name] = svc
}

// RegisterLimited adds a service throttled to rps calls per second with
// the given burst.
func (r *ServiceRegistry) RegisterLimited(name string, svc Service, rps float64, burst int) {
	r.Register(name, &limitedService{
		inner:   svc,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	})
}

// Resolve implements ServiceResolver.
func (r *ServiceRegistry) Resolve(name string) (Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "service", ID: name}
	}
	return svc, nil
}

// Names returns the registered service names.
func (r *ServiceRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	return names
}

// limitedService blocks on its limiter before delegating.
type limitedService struct {
	inner   Service
	limiter *rate.Limiter
}

func (s *limitedService) Call(ctx context.Context, method string, input map[string]any) (any, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return s.inner.Call(ctx, method, input)
}

// defaultServices is the process-wide registry the default resolver
// consults.
var defaultServices = NewServiceRegistry()

// RegisterService adds a service to the process-wide registry.
func RegisterService(name string, svc Service) {
	defaultServices.Register(name, svc)
}

// DefaultServiceResolver resolves against the process-wide registry.
func DefaultServiceResolver(name string) (Service, error) {
	return defaultServices.Resolve(name)
}
