package session

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/face-analysis/internal/controller"
)

// Factory builds the controller for a new session id.
type Factory func(id string) *controller.Controller

// Store keeps the live sessions of the widget host in memory.
type Store struct {
	newController Factory
	logger        *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*controller.Controller
	onClose  []func(id string)
}

// NewStore creates an empty store.
func NewStore(factory Factory, logger *zap.Logger) *Store {
	return &Store{
		newController: factory,
		logger:        logger.Named("session_store"),
		sessions:      make(map[string]*controller.Controller),
	}
}

// OnClose registers fn to run after a session has been closed, for
// resources keyed by session id outside the controller.
func (s *Store) OnClose(fn func(id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = append(s.onClose, fn)
}

// Create starts a new idle session.
func (s *Store) Create() *controller.Controller {
	id := uuid.NewString()
	ctrl := s.newController(id)

	s.mu.Lock()
	s.sessions[id] = ctrl
	s.mu.Unlock()

	s.logger.Info("session created", zap.String("session_id", id))
	return ctrl
}

// Get returns the session with id.
func (s *Store) Get(id string) (*controller.Controller, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctrl, ok := s.sessions[id]
	return ctrl, ok
}

// Delete ends a session and releases its resources.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	ctrl, ok := s.sessions[id]
	delete(s.sessions, id)
	hooks := s.onClose
	s.mu.Unlock()

	if !ok {
		return false
	}
	s.closeSession(ctrl, hooks)
	s.logger.Info("session closed", zap.String("session_id", id))
	return true
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// CloseAll ends every session.
func (s *Store) CloseAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*controller.Controller)
	hooks := s.onClose
	s.mu.Unlock()

	for _, ctrl := range sessions {
		s.closeSession(ctrl, hooks)
	}
	if len(sessions) > 0 {
		s.logger.Info("sessions closed", zap.Int("count", len(sessions)))
	}
}

func (s *Store) closeSession(ctrl *controller.Controller, hooks []func(id string)) {
	ctrl.Close()
	for _, fn := range hooks {
		fn(ctrl.ID())
	}
}
