package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	RoleAdmin    = "admin"
	RoleEditor   = "editor"
	RoleReviewer = "reviewer"
	RoleViewer   = "viewer"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnknownRole  = errors.New("unknown role")
)

// User is the caller identity supplied by the upstream auth collaborator.
type User struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	// Authenticated is set when the caller presented a valid API token.
	// Without one, ID is only a self-reported label.
	Authenticated bool `json:"-"`
}

type ServiceConfig struct {
	// APITokenHash is a bcrypt hash; when empty no token is required.
	APITokenHash string
	DefaultRole  string
}

type Service struct {
	tokenHash   []byte
	defaultRole string

	mu       sync.RWMutex
	verified map[string]struct{}
}

func NewService(cfg ServiceConfig) *Service {
	role := strings.ToLower(strings.TrimSpace(cfg.DefaultRole))
	if _, ok := knownRoles[role]; !ok {
		role = RoleViewer
	}
	var hash []byte
	if h := strings.TrimSpace(cfg.APITokenHash); h != "" {
		hash = []byte(h)
	}
	return &Service{
		tokenHash:   hash,
		defaultRole: role,
		verified:    make(map[string]struct{}),
	}
}

var knownRoles = map[string]struct{}{
	RoleAdmin:    {},
	RoleEditor:   {},
	RoleReviewer: {},
	RoleViewer:   {},
}

// Resolve builds the caller identity from the presented user id, role tag and token.
func (s *Service) Resolve(userID, role, token string) (*User, error) {
	if err := s.verifyToken(token); err != nil {
		return nil, err
	}

	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		role = s.defaultRole
	}
	if _, ok := knownRoles[role]; !ok {
		return nil, ErrUnknownRole
	}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = role
	}
	if len(userID) > 128 {
		userID = userID[:128]
	}
	return &User{ID: userID, Role: role, Authenticated: len(s.tokenHash) > 0}, nil
}

func (s *Service) verifyToken(token string) error {
	if len(s.tokenHash) == 0 {
		return nil
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrUnauthorized
	}

	sum := sha256.Sum256([]byte(token))
	key := hex.EncodeToString(sum[:])
	s.mu.RLock()
	_, ok := s.verified[key]
	s.mu.RUnlock()
	if ok {
		return nil
	}

	if err := bcrypt.CompareHashAndPassword(s.tokenHash, []byte(token)); err != nil {
		return ErrUnauthorized
	}
	s.mu.Lock()
	s.verified[key] = struct{}{}
	s.mu.Unlock()
	return nil
}
