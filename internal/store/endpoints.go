package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/samirkhoja/hookbin/internal/config"
	"github.com/samirkhoja/hookbin/internal/model"
	"github.com/samirkhoja/hookbin/internal/util"
)

type endpointsFile struct {
	Endpoints []model.EndpointConfig `yaml:"endpoints"`
}

// FileConfigStore keeps endpoint configurations in a single YAML file. The file
// is re-read on every lookup so edits made by the CLI reach a running server.
type FileConfigStore struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

func NewFileConfigStore(path string, logger *zap.Logger) *FileConfigStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileConfigStore{path: path, logger: logger}
}

func (s *FileConfigStore) GetEndpointConfig(_ context.Context, id string) (model.EndpointConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	eps, err := s.load()
	if err != nil {
		return model.EndpointConfig{}, err
	}
	for _, e := range eps {
		if e.ID == id {
			return e, nil
		}
	}
	return model.EndpointConfig{}, fmt.Errorf("endpoint %s: %w", id, ErrNotFound)
}

func (s *FileConfigStore) UpdateEndpointConfig(_ context.Context, cfg model.EndpointConfig) error {
	if err := config.ValidateEndpoint(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	eps, err := s.load()
	if err != nil {
		return err
	}
	for i := range eps {
		if eps[i].ID == cfg.ID {
			cfg.CreatedAt = eps[i].CreatedAt
			eps[i] = cfg
			return s.save(eps)
		}
	}
	return fmt.Errorf("endpoint %s: %w", cfg.ID, ErrNotFound)
}

func (s *FileConfigStore) CreateEndpoint(_ context.Context, cfg model.EndpointConfig) error {
	if err := config.ValidateEndpoint(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	eps, err := s.load()
	if err != nil {
		return err
	}
	for _, e := range eps {
		if e.ID == cfg.ID {
			return fmt.Errorf("endpoint %s: %w", cfg.ID, ErrExists)
		}
	}
	eps = append(eps, cfg)
	if err := s.save(eps); err != nil {
		return err
	}
	s.logger.Info("endpoint created", zap.String("endpoint_id", cfg.ID))
	return nil
}

func (s *FileConfigStore) DeleteEndpoint(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	eps, err := s.load()
	if err != nil {
		return err
	}
	for i := range eps {
		if eps[i].ID == id {
			eps = append(eps[:i], eps[i+1:]...)
			if err := s.save(eps); err != nil {
				return err
			}
			s.logger.Info("endpoint deleted", zap.String("endpoint_id", id))
			return nil
		}
	}
	return fmt.Errorf("endpoint %s: %w", id, ErrNotFound)
}

// ListEndpoints returns all endpoints, oldest first.
func (s *FileConfigStore) ListEndpoints(_ context.Context) ([]model.EndpointConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	eps, err := s.load()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(eps, func(i, j int) bool {
		return eps[i].CreatedAt.Before(eps[j].CreatedAt)
	})
	return eps, nil
}

func (s *FileConfigStore) load() ([]model.EndpointConfig, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read endpoints file: %w", err)
	}
	var f endpointsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse endpoints yaml: %w", err)
	}
	return f.Endpoints, nil
}

func (s *FileConfigStore) save(eps []model.EndpointConfig) error {
	if eps == nil {
		eps = []model.EndpointConfig{}
	}
	b, err := yaml.Marshal(endpointsFile{Endpoints: eps})
	if err != nil {
		return fmt.Errorf("marshal endpoints: %w", err)
	}
	return util.WriteFileAtomic(s.path, b, 0o600)
}
