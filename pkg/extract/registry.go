package extract

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/chemflow/chemflow/pkg/cferrors"
	"github.com/chemflow/chemflow/pkg/config"
)

// Registry manages extractor registration and instantiation. A registry is
// constructed once per run and passed into the orchestrator explicitly;
// there is no process-wide instance.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
	logger    *zap.Logger
}

// Factory creates an extractor instance for a source from its configuration.
type Factory func(source string, cfg config.SourceConfig) (Extractor, error)

// NewRegistry creates an empty extractor registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger.With(zap.String("component", "extractor_registry")),
	}
}

// Register registers an extractor factory for a source name.
func (r *Registry) Register(source string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[source]; exists {
		return cferrors.New(cferrors.ErrorTypeConfig, fmt.Sprintf("extractor %s already registered", source))
	}

	r.factories[source] = factory
	r.logger.Info("extractor registered", zap.String("source", source))
	return nil
}

// Create creates an extractor instance for a source.
func (r *Registry) Create(source string, cfg config.SourceConfig) (Extractor, error) {
	r.mu.RLock()
	factory, exists := r.factories[source]
	r.mu.RUnlock()

	if !exists {
		return nil, cferrors.New(cferrors.ErrorTypeConfig, fmt.Sprintf("extractor %s not found", source))
	}

	extractor, err := factory(source, cfg)
	if err != nil {
		return nil, cferrors.Wrap(err, cferrors.ErrorTypeConfig, fmt.Sprintf("failed to create extractor %s", source))
	}

	return extractor, nil
}

// Sources returns the registered source names.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]string, 0, len(r.factories))
	for source := range r.factories {
		sources = append(sources, source)
	}
	return sources
}
