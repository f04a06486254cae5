package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"assetvault/internal/models"
)

type dataset struct {
	Assets map[string]models.Asset `json:"assets"`
}

func newDataset() dataset {
	return dataset{Assets: make(map[string]models.Asset)}
}

// Storage is the JSON-file repository used for development and tests. The
// whole dataset lives in memory behind a RWMutex and is flushed to disk after
// every mutation.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

// NewStorage loads (or initialises) the JSON datastore at filePath.
func NewStorage(filePath string) (*Storage, error) {
	store := &Storage{
		filePath: filePath,
		data:     newDataset(),
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	if s.filePath == "" {
		return nil
	}
	payload, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read datastore: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	var data dataset
	if err := json.Unmarshal(payload, &data); err != nil {
		return fmt.Errorf("parse datastore: %w", err)
	}
	if data.Assets == nil {
		data.Assets = make(map[string]models.Asset)
	}
	s.data = data
	return nil
}

func (s *Storage) persistLocked() error {
	if s.persistOverride != nil {
		return s.persistOverride(s.data)
	}
	if s.filePath == "" {
		return nil
	}
	payload, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode datastore: %w", err)
	}
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create datastore directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create datastore temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write datastore: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close datastore temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.filePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace datastore: %w", err)
	}
	return nil
}

// Ping reports datastore health; the file store is healthy once constructed.
func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (s *Storage) CreateAsset(ctx context.Context, asset models.Asset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data.Assets[asset.ID]; exists {
		return fmt.Errorf("asset %s already exists", asset.ID)
	}
	s.data.Assets[asset.ID] = asset
	if err := s.persistLocked(); err != nil {
		delete(s.data.Assets, asset.ID)
		return err
	}
	return nil
}

func (s *Storage) GetAsset(ctx context.Context, id string) (models.Asset, error) {
	if err := ctx.Err(); err != nil {
		return models.Asset{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	asset, exists := s.data.Assets[id]
	if !exists {
		return models.Asset{}, ErrNotFound
	}
	return asset, nil
}

func (s *Storage) ListAssets(ctx context.Context) ([]models.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	assets := make([]models.Asset, 0, len(s.data.Assets))
	for _, asset := range s.data.Assets {
		assets = append(assets, asset)
	}
	return assets, nil
}

func (s *Storage) ReplaceAsset(ctx context.Context, asset models.Asset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, exists := s.data.Assets[asset.ID]
	if !exists {
		return ErrNotFound
	}
	s.data.Assets[asset.ID] = asset
	if err := s.persistLocked(); err != nil {
		s.data.Assets[asset.ID] = previous
		return err
	}
	return nil
}

func (s *Storage) DeleteAsset(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, exists := s.data.Assets[id]
	if !exists {
		return ErrNotFound
	}
	delete(s.data.Assets, id)
	if err := s.persistLocked(); err != nil {
		s.data.Assets[id] = previous
		return err
	}
	return nil
}

var _ Repository = (*Storage)(nil)
