package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"chart-gateway/internal/model"
	"chart-gateway/internal/repository"
)

// ErrUnknownDataSource is returned when no resolver knows a data source name
var ErrUnknownDataSource = errors.New("unknown data source")

// SourceResolver looks up the connection definition of a named data source
type SourceResolver interface {
	ResolveSource(ctx context.Context, name string) (*model.DataSource, error)
}

// StaticSources resolves data sources declared in the configuration file
type StaticSources struct {
	mutex   sync.RWMutex
	sources map[string]*model.DataSource
}

// NewStaticSources creates a resolver over a fixed set of data sources
func NewStaticSources(sources ...*model.DataSource) *StaticSources {
	s := &StaticSources{sources: make(map[string]*model.DataSource, len(sources))}
	for _, ds := range sources {
		s.sources[ds.Name] = ds
	}
	return s
}

// Put adds or replaces a data source
func (s *StaticSources) Put(ds *model.DataSource) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.sources[ds.Name] = ds
}

// Names returns the declared data source names, sorted
func (s *StaticSources) Names() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	names := make([]string, 0, len(s.sources))
	for name := range s.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *StaticSources) ResolveSource(ctx context.Context, name string) (*model.DataSource, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	ds, ok := s.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataSource, name)
	}
	copied := *ds
	return &copied, nil
}

// RepositorySources resolves data sources registered through the API
type RepositorySources struct {
	repo repository.DataSourceRepository
}

// NewRepositorySources creates a resolver backed by the data source repository
func NewRepositorySources(repo repository.DataSourceRepository) *RepositorySources {
	return &RepositorySources{repo: repo}
}

func (r *RepositorySources) ResolveSource(ctx context.Context, name string) (*model.DataSource, error) {
	ds, err := r.repo.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrDataSourceNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDataSource, name)
		}
		return nil, err
	}
	if ds.Status == model.DataSourceStatusInactive {
		return nil, fmt.Errorf("%w: %s is inactive", ErrUnknownDataSource, name)
	}
	return ds, nil
}

// ChainSources tries each resolver in order
type ChainSources []SourceResolver

func (c ChainSources) ResolveSource(ctx context.Context, name string) (*model.DataSource, error) {
	for _, r := range c {
		ds, err := r.ResolveSource(ctx, name)
		if err == nil {
			return ds, nil
		}
		if !errors.Is(err, ErrUnknownDataSource) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownDataSource, name)
}
