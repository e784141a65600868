package memory

import (
	"sort"
	"sync"

	"quizbot-service/internal/app"
)

// PlayerStore is an in-memory implementation of app.PlayerRepository.
type PlayerStore struct {
	mu      sync.RWMutex
	players map[string]*app.Player
	active  map[string]string // userID -> topic
}

func NewPlayerStore() *PlayerStore {
	return &PlayerStore{
		players: make(map[string]*app.Player),
		active:  make(map[string]string),
	}
}

func (s *PlayerStore) GetOrCreate(userID string) *app.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.players[userID]; ok {
		return p
	}
	p := app.NewPlayer(userID)
	s.players[userID] = p
	return p
}

func (s *PlayerStore) Get(userID string) (*app.Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[userID]
	return p, ok
}

func (s *PlayerStore) SetActive(userID, topic string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if active {
		s.active[userID] = topic
		return
	}
	delete(s.active, userID)
}

// Active returns the users with a session in progress, sorted.
func (s *PlayerStore) Active() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.active))
	for userID := range s.active {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}
