package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// TokenStore manages the Hub's view of authentication: the tokens it was
// issued by each Agent it paired with, and the Hub's own stable identity.
type TokenStore struct {
	mu       sync.RWMutex
	tokens   map[string]string // agentID -> token
	hubID    string
	filePath string
	idPath   string
}

// NewTokenStore opens (or creates) a TokenStore at dir/token_store.json,
// generating a stable Hub ID on first use.
func NewTokenStore(dir string) (*TokenStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create token store directory: %w", err)
	}

	s := &TokenStore{
		tokens:   make(map[string]string),
		filePath: filepath.Join(dir, "token_store.json"),
		idPath:   filepath.Join(dir, "hub_id"),
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	if err := s.loadOrCreateHubID(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *TokenStore) loadOrCreateHubID() error {
	data, err := os.ReadFile(s.idPath)
	if err == nil && len(data) > 0 {
		s.hubID = string(data)
		return nil
	}
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read hub id: %w", err)
	}

	s.hubID = uuid.New().String()
	return atomicWriteFile(s.idPath, []byte(s.hubID), 0600)
}

func (s *TokenStore) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read token store: %w", err)
	}

	var tokens map[string]string
	if err := json.Unmarshal(data, &tokens); err != nil {
		return fmt.Errorf("parse token store: %w", err)
	}
	s.tokens = tokens
	return nil
}

func (s *TokenStore) saveLocked() error {
	data, err := json.MarshalIndent(s.tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token store: %w", err)
	}
	return atomicWriteFile(s.filePath, data, 0600)
}

// HubID returns the stable identifier this Hub presents to Agents during
// the handshake.
func (s *TokenStore) HubID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hubID
}

// GetToken returns the stored token for an Agent, or "" if none.
func (s *TokenStore) GetToken(agentID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[agentID]
}

// SaveToken stores the token issued for an Agent after a successful
// pairing.
func (s *TokenStore) SaveToken(agentID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[agentID] = token
	return s.saveLocked()
}

// RemoveToken forgets the token for an Agent, for example after the
// Agent reports the token as no longer valid.
func (s *TokenStore) RemoveToken(agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, agentID)
	return s.saveLocked()
}

// HasToken reports whether a token is stored for the Agent.
func (s *TokenStore) HasToken(agentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tokens[agentID]
	return ok
}
