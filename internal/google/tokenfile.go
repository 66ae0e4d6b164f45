package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
)

var ErrTokenNotFound = errors.New("token not found")

// TokenStore persists OAuth tokens keyed by service name. Implementations are
// scoped to a single user.
type TokenStore interface {
	Load(ctx context.Context, service string) (*oauth2.Token, error)
	Save(ctx context.Context, service string, token *oauth2.Token) error
	DeleteAll(ctx context.Context) error
}

// FileTokenStore keeps tokens for every user in one JSON file, laid out as
// user -> service -> token.
type FileTokenStore struct {
	mu   sync.Mutex
	path string
	user string
}

func NewFileTokenStore(path, user string) *FileTokenStore {
	return &FileTokenStore{path: path, user: user}
}

func (s *FileTokenStore) Load(_ context.Context, service string) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		return nil, err
	}
	tok, ok := all[s.user][service]
	if !ok || tok == nil {
		return nil, ErrTokenNotFound
	}
	return tok, nil
}

func (s *FileTokenStore) Save(_ context.Context, service string, token *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		return err
	}
	if all[s.user] == nil {
		all[s.user] = make(map[string]*oauth2.Token)
	}
	all[s.user][service] = token
	return s.write(all)
}

func (s *FileTokenStore) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := all[s.user]; !ok {
		return nil
	}
	delete(all, s.user)
	return s.write(all)
}

func (s *FileTokenStore) read() (map[string]map[string]*oauth2.Token, error) {
	all := make(map[string]map[string]*oauth2.Token)

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return all, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to open token file: %w", err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&all); err != nil {
		return nil, fmt.Errorf("unable to decode token file %s: %w", s.path, err)
	}
	return all, nil
}

func (s *FileTokenStore) write(all map[string]map[string]*oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("unable to create token directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to cache oauth token: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(all)
}
