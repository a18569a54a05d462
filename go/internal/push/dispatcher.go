package push

import (
	"context"

	"github.com/rs/zerolog/log"
)

// DispatchResult reports the outcome of a best-effort push dispatch. A
// dispatch never fails the domain action that triggered it.
type DispatchResult struct {
	// Sent is the number of tokens the provider accepted for delivery
	Sent int
	// NoTokens is true when the user had no registered tokens
	NoTokens bool
	// Evicted is the number of tokens removed because the provider
	// reported them invalid
	Evicted int
}

// Dispatcher gathers a user's tokens and attempts delivery via the provider
type Dispatcher struct {
	store    *TokenStore
	provider Provider
}

// NewDispatcher creates a push dispatcher
func NewDispatcher(store *TokenStore, provider Provider) *Dispatcher {
	return &Dispatcher{
		store:    store,
		provider: provider,
	}
}

// Dispatch sends a notification to all of the user's registered tokens across
// both platforms. A user with no tokens yields a NoTokens result, not an
// error; provider failures degrade to a zero-sent result.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, notification Notification) DispatchResult {
	tokens := d.store.Tokens(userID)
	if len(tokens) == 0 {
		log.Debug().Str("user_id", userID).Msg("push skipped, no registered tokens")
		return DispatchResult{NoTokens: true}
	}

	invalid, err := d.provider.Send(ctx, tokens, notification)
	if err != nil {
		log.Warn().
			Err(err).
			Str("user_id", userID).
			Int("tokens", len(tokens)).
			Msg("push delivery failed")
		return DispatchResult{}
	}

	// Evict only the tokens the provider reported as invalid
	if len(invalid) > 0 {
		d.store.RemoveTokens(userID, invalid)
	}

	log.Debug().
		Str("user_id", userID).
		Int("sent", len(tokens)-len(invalid)).
		Int("evicted", len(invalid)).
		Msg("push dispatched")

	return DispatchResult{
		Sent:    len(tokens) - len(invalid),
		Evicted: len(invalid),
	}
}
