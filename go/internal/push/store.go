package push

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gameonhq/sync-gateway/go/internal/realtime"
)

// maxTokensPerPlatform caps each user's token list at the most recently
// registered entries; the oldest token is evicted first
const maxTokensPerPlatform = 5

type deviceTokens struct {
	Web    []string
	Mobile []string
}

// TokenStore holds per-user, per-platform push tokens. In-memory only.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]*deviceTokens // user ID -> token lists
}

// NewTokenStore creates an empty token store
func NewTokenStore() *TokenStore {
	return &TokenStore{
		tokens: make(map[string]*deviceTokens),
	}
}

// RegisterToken appends a token to the user's platform list if absent, then
// truncates the list to the 5 most recently registered tokens. Duplicate
// tokens are not re-inserted.
func (s *TokenStore) RegisterToken(userID, token string, platform realtime.Platform) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.tokens[userID]
	if record == nil {
		record = &deviceTokens{}
		s.tokens[userID] = record
	}

	list := &record.Web
	if platform == realtime.PlatformMobile {
		list = &record.Mobile
	}

	for _, existing := range *list {
		if existing == token {
			return
		}
	}

	*list = append(*list, token)
	if len(*list) > maxTokensPerPlatform {
		*list = (*list)[len(*list)-maxTokensPerPlatform:]
	}

	log.Debug().
		Str("user_id", userID).
		Str("platform", string(platform)).
		Int("tokens", len(*list)).
		Msg("push token registered")
}

// UnregisterToken removes a token from both platform lists unconditionally;
// the caller need not know which platform it was registered on
func (s *TokenStore) UnregisterToken(userID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.tokens[userID]
	if !ok {
		return
	}
	record.Web = removeToken(record.Web, token)
	record.Mobile = removeToken(record.Mobile, token)

	if len(record.Web) == 0 && len(record.Mobile) == 0 {
		delete(s.tokens, userID)
	}
}

// RemoveTokens drops a set of tokens for a user across both platforms.
// Used to evict tokens the push provider reported as invalid.
func (s *TokenStore) RemoveTokens(userID string, tokens []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.tokens[userID]
	if !ok {
		return
	}
	for _, token := range tokens {
		record.Web = removeToken(record.Web, token)
		record.Mobile = removeToken(record.Mobile, token)
	}
	if len(record.Web) == 0 && len(record.Mobile) == 0 {
		delete(s.tokens, userID)
	}
}

// Tokens returns every token registered for the user, web first then mobile
func (s *TokenStore) Tokens(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.tokens[userID]
	if !ok {
		return nil
	}
	all := make([]string, 0, len(record.Web)+len(record.Mobile))
	all = append(all, record.Web...)
	all = append(all, record.Mobile...)
	return all
}

// PlatformTokens returns the user's token list for one platform
func (s *TokenStore) PlatformTokens(userID string, platform realtime.Platform) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.tokens[userID]
	if !ok {
		return nil
	}
	src := record.Web
	if platform == realtime.PlatformMobile {
		src = record.Mobile
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

func removeToken(list []string, token string) []string {
	out := list[:0]
	for _, existing := range list {
		if existing != token {
			out = append(out, existing)
		}
	}
	return out
}
