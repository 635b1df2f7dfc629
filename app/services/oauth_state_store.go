package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amirphl/evoteli/utils"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrOAuthStateNotFound = errors.New("oauth state not found or expired")

// OAuthState binds an in-flight authorization to the user that started it
type OAuthState struct {
	OwnerID    uuid.UUID `json:"owner_id"`
	CustomerID string    `json:"customer_id"`
	IssuedAt   time.Time `json:"issued_at"`
}

// OAuthStateStore keeps short-lived, single-use OAuth state tokens
type OAuthStateStore interface {
	Issue(ctx context.Context, state OAuthState) (string, error)
	Consume(ctx context.Context, token string) (*OAuthState, error)
}

// RedisOAuthStateStore stores states under <prefix>oauth_state:<token> with a TTL
type RedisOAuthStateStore struct {
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisOAuthStateStore(rc *redis.Client, prefix string, ttl time.Duration) OAuthStateStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisOAuthStateStore{rc: rc, prefix: prefix, ttl: ttl}
}

func (s *RedisOAuthStateStore) key(token string) string {
	return s.prefix + "oauth_state:" + token
}

func (s *RedisOAuthStateStore) Issue(ctx context.Context, state OAuthState) (string, error) {
	if state.IssuedAt.IsZero() {
		state.IssuedAt = utils.UTCNow()
	}
	bs, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	token := uuid.NewString()
	if err := s.rc.Set(ctx, s.key(token), bs, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store oauth state: %w", err)
	}
	return token, nil
}

// Consume returns and deletes the state in one round trip
func (s *RedisOAuthStateStore) Consume(ctx context.Context, token string) (*OAuthState, error) {
	if token == "" {
		return nil, ErrOAuthStateNotFound
	}
	bs, err := s.rc.GetDel(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrOAuthStateNotFound
		}
		return nil, fmt.Errorf("failed to read oauth state: %w", err)
	}
	var state OAuthState
	if err := json.Unmarshal(bs, &state); err != nil {
		return nil, fmt.Errorf("failed to decode oauth state: %w", err)
	}
	return &state, nil
}

// MemoryOAuthStateStore is the single-process fallback used when redis is disabled
type MemoryOAuthStateStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	states map[string]OAuthState
	now    func() time.Time
}

func NewMemoryOAuthStateStore(ttl time.Duration) *MemoryOAuthStateStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MemoryOAuthStateStore{ttl: ttl, states: map[string]OAuthState{}, now: utils.UTCNow}
}

func (s *MemoryOAuthStateStore) Issue(_ context.Context, state OAuthState) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state.IssuedAt.IsZero() {
		state.IssuedAt = s.now()
	}
	for token, st := range s.states {
		if s.now().Sub(st.IssuedAt) > s.ttl {
			delete(s.states, token)
		}
	}
	token := uuid.NewString()
	s.states[token] = state
	return token, nil
}

func (s *MemoryOAuthStateStore) Consume(_ context.Context, token string) (*OAuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[token]
	if !ok {
		return nil, ErrOAuthStateNotFound
	}
	delete(s.states, token)
	if s.now().Sub(st.IssuedAt) > s.ttl {
		return nil, ErrOAuthStateNotFound
	}
	return &st, nil
}
