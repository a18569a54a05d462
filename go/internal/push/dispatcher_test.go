package push

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gameonhq/sync-gateway/go/internal/realtime"
)

type fakeProvider struct {
	gotTokens []string
	invalid   []string
	err       error
}

func (p *fakeProvider) Send(ctx context.Context, tokens []string, notification Notification) ([]string, error) {
	p.gotTokens = tokens
	return p.invalid, p.err
}

func TestDispatcher_NoTokensIsAResultNotAnError(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	d := NewDispatcher(NewTokenStore(), provider)

	result := d.Dispatch(context.Background(), "user-1", Notification{Title: "hi"})
	assert.True(t, result.NoTokens)
	assert.Zero(t, result.Sent)
	assert.Nil(t, provider.gotTokens, "provider is not called without tokens")
}

func TestDispatcher_SendsAllTokensAcrossPlatforms(t *testing.T) {
	t.Parallel()

	store := NewTokenStore()
	store.RegisterToken("user-1", "tok-web", realtime.PlatformWeb)
	store.RegisterToken("user-1", "tok-mob", realtime.PlatformMobile)

	provider := &fakeProvider{}
	d := NewDispatcher(store, provider)

	result := d.Dispatch(context.Background(), "user-1", Notification{Title: "hi"})
	assert.Equal(t, 2, result.Sent)
	assert.ElementsMatch(t, []string{"tok-web", "tok-mob"}, provider.gotTokens)
}

func TestDispatcher_ProviderFailureDegradesToZeroResult(t *testing.T) {
	t.Parallel()

	store := NewTokenStore()
	store.RegisterToken("user-1", "tok1", realtime.PlatformWeb)

	provider := &fakeProvider{err: errors.New("provider down")}
	d := NewDispatcher(store, provider)

	result := d.Dispatch(context.Background(), "user-1", Notification{})
	assert.Zero(t, result.Sent)
	assert.False(t, result.NoTokens)

	// Tokens are kept; a provider outage is not evidence they are invalid
	assert.Equal(t, []string{"tok1"}, store.Tokens("user-1"))
}

func TestDispatcher_EvictsOnlyInvalidTokens(t *testing.T) {
	t.Parallel()

	store := NewTokenStore()
	store.RegisterToken("user-1", "tok-good", realtime.PlatformMobile)
	store.RegisterToken("user-1", "tok-bad", realtime.PlatformMobile)

	provider := &fakeProvider{invalid: []string{"tok-bad"}}
	d := NewDispatcher(store, provider)

	result := d.Dispatch(context.Background(), "user-1", Notification{})
	require.Equal(t, 1, result.Sent)
	assert.Equal(t, 1, result.Evicted)
	assert.Equal(t, []string{"tok-good"}, store.Tokens("user-1"))
}
