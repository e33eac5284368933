// Package store persists the auto-join channel list of every network in a
// bitcask database.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"reconcile/logger"

	"git.mills.io/prologic/bitcask"
	"github.com/lrstanley/girc"
)

// MergeInterval is how often RunMerger compacts the database.
const MergeInterval = 24 * time.Hour

// Store is safe for concurrent use by every network.
type Store struct {
	mu   sync.Mutex
	data *bitcask.Bitcask
}

// Open opens or creates the database directory at path.
func Open(path string) (*Store, error) {
	data, err := bitcask.Open(path, bitcask.WithMaxValueSize(1024*1024))
	if err != nil {
		return nil, fmt.Errorf("opening channel store %s: %w", path, err)
	}
	return &Store{data: data}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Close()
}

// Merge reclaims space held by stale entries.
func (s *Store) Merge() error {
	logger.Info("Merging channel store to reclaim space...")
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.data.Merge(); err != nil {
		logger.Error("Error merging channel store", "error", err)
		return err
	}
	logger.Info("Channel store merge complete.")
	return nil
}

// RunMerger merges the database every interval until ctx is done.
func (s *Store) RunMerger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Merge()
		}
	}
}

// List returns the stored channels of network in insertion order.
func (s *Store) List(network string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(network)
}

// Add stores channel for network. Adding a channel twice is a no-op.
func (s *Store) Add(network, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	channels, err := s.listLocked(network)
	if err != nil {
		return err
	}
	if indexOf(channels, channel) >= 0 {
		return nil
	}
	return s.putLocked(network, append(channels, channel))
}

// Remove deletes channel from network's list. Removing an unknown channel is a no-op.
func (s *Store) Remove(network, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	channels, err := s.listLocked(network)
	if err != nil {
		return err
	}
	i := indexOf(channels, channel)
	if i < 0 {
		return nil
	}
	return s.putLocked(network, append(channels[:i], channels[i+1:]...))
}

func (s *Store) listLocked(network string) ([]string, error) {
	compressed, err := s.data.Get(CacheKey(channelsKey(network)))
	if errors.Is(err, bitcask.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading channels of %s: %w", network, err)
	}

	raw, err := decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("decompressing channels of %s: %w", network, err)
	}

	var channels []string
	if err := json.Unmarshal(raw, &channels); err != nil {
		return nil, fmt.Errorf("decoding channels of %s: %w", network, err)
	}
	return channels, nil
}

func (s *Store) putLocked(network string, channels []string) error {
	raw, err := json.Marshal(channels)
	if err != nil {
		return err
	}
	compressed, err := compress(raw)
	if err != nil {
		return err
	}
	if err := s.data.Put(CacheKey(channelsKey(network)), compressed); err != nil {
		return fmt.Errorf("writing channels of %s: %w", network, err)
	}
	return nil
}

func channelsKey(network string) string {
	return network + "_channels"
}

func indexOf(channels []string, channel string) int {
	folded := girc.ToRFC1459(channel)
	for i, c := range channels {
		if girc.ToRFC1459(c) == folded {
			return i
		}
	}
	return -1
}
