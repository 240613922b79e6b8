// ABOUTME: Tests for the credential cell, token expiry, and registration manager
// ABOUTME: Uses a fake registrar and the in-memory MockStore as the cache

package credential

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chaos-relay/internal/chain"
	"github.com/2389/chaos-relay/internal/store"
)

type fakeRegistrar struct {
	mu    sync.Mutex
	calls []chain.RegisterRequest
	resp  *chain.RegisterResponse
	err   error
}

func (f *fakeRegistrar) Register(ctx context.Context, req chain.RegisterRequest) (*chain.RegisterResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeRegistrar) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "agent-1",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("service-secret"))
	require.NoError(t, err)
	return s
}

var testCharacter = Character{
	Name:        "DramaLlama",
	Personality: []string{"sassy", "dramatic"},
	Style:       "chaotic",
	StakeAmount: 1000,
	Role:        "validator",
}

func TestCell_SetGetClear(t *testing.T) {
	c := NewCell()

	_, ok := c.Get()
	assert.False(t, ok)

	c.Set(Credential{AgentID: "a", Token: "t"})
	got, ok := c.Get()
	assert.True(t, ok)
	assert.Equal(t, Credential{AgentID: "a", Token: "t"}, got)

	c.Clear()
	_, ok = c.Get()
	assert.False(t, ok)
}

func TestCell_SetInvalidClears(t *testing.T) {
	c := NewCell()
	c.Set(Credential{AgentID: "a", Token: "t"})
	c.Set(Credential{AgentID: "a"})

	_, ok := c.Get()
	assert.False(t, ok)
}

func TestCell_ConcurrentReaders(t *testing.T) {
	c := NewCell()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Set(Credential{AgentID: "a", Token: "t"})
		}()
		go func() {
			defer wg.Done()
			if cred, ok := c.Get(); ok {
				assert.True(t, cred.Valid())
			}
		}()
	}
	wg.Wait()
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	got, ok := TokenExpiry(signedToken(t, exp))
	require.True(t, ok)
	assert.True(t, got.Equal(exp))

	_, ok = TokenExpiry("opaque-token")
	assert.False(t, ok)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).SignedString([]byte("k"))
	require.NoError(t, err)
	_, ok = TokenExpiry(noExp)
	assert.False(t, ok)
}

func TestExpired(t *testing.T) {
	now := time.Now()
	assert.False(t, Expired(signedToken(t, now.Add(time.Hour)), now))
	assert.True(t, Expired(signedToken(t, now.Add(-time.Minute)), now))
	assert.True(t, Expired(signedToken(t, now.Add(10*time.Second)), now), "within leeway")
	assert.False(t, Expired("opaque-token", now))
}

func TestCharacter_Request(t *testing.T) {
	req := testCharacter.Request()
	assert.Equal(t, "DramaLlama", req.Name)
	assert.Equal(t, []string{"sassy", "dramatic"}, req.Personality)
	assert.Equal(t, int64(1000), req.StakeAmount)

	empty := Character{Name: "x"}.Request()
	assert.NotNil(t, empty.Personality)
}

func TestManager_Register(t *testing.T) {
	reg := &fakeRegistrar{resp: &chain.RegisterResponse{AgentID: "agent-1", Token: "tok-1"}}
	cache := store.NewMockStore()
	cell := NewCell()
	m := NewManager(reg, cache, cell, nil)

	cred, err := m.Register(context.Background(), testCharacter)
	require.NoError(t, err)
	assert.Equal(t, Credential{AgentID: "agent-1", Token: "tok-1"}, cred)

	got, ok := cell.Get()
	require.True(t, ok)
	assert.Equal(t, cred, got)

	cached, err := cache.GetCredential(context.Background(), "DramaLlama")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", cached.Token)

	require.Len(t, reg.calls, 1)
	assert.Equal(t, "validator", reg.calls[0].Role)
}

func TestManager_Register_Failure(t *testing.T) {
	reg := &fakeRegistrar{err: &chain.APIError{Endpoint: chain.PathRegister, StatusCode: 500}}
	cell := NewCell()
	m := NewManager(reg, nil, cell, nil)

	_, err := m.Register(context.Background(), testCharacter)
	require.Error(t, err)

	var apiErr *chain.APIError
	assert.True(t, errors.As(err, &apiErr))

	_, ok := cell.Get()
	assert.False(t, ok, "failed registration must not publish a credential")
}

func TestManager_Register_Incomplete(t *testing.T) {
	reg := &fakeRegistrar{resp: &chain.RegisterResponse{AgentID: "agent-1"}}
	m := NewManager(reg, nil, NewCell(), nil)

	_, err := m.Register(context.Background(), testCharacter)
	assert.ErrorIs(t, err, ErrIncompleteCredential)
}

func TestManager_Register_NoName(t *testing.T) {
	reg := &fakeRegistrar{}
	m := NewManager(reg, nil, NewCell(), nil)

	_, err := m.Register(context.Background(), Character{})
	assert.ErrorIs(t, err, ErrNoName)
	assert.Equal(t, 0, reg.count())
}

func TestManager_Register_CacheWriteFailureIsNotFatal(t *testing.T) {
	reg := &fakeRegistrar{resp: &chain.RegisterResponse{AgentID: "agent-1", Token: "tok-1"}}
	cache := store.NewMockStore()
	cache.SaveErr = errors.New("disk full")
	cell := NewCell()

	_, err := NewManager(reg, cache, cell, nil).Register(context.Background(), testCharacter)
	require.NoError(t, err)

	_, ok := cell.Get()
	assert.True(t, ok)
}

func TestManager_EnsureRegistered_ReusesCache(t *testing.T) {
	ctx := context.Background()
	cache := store.NewMockStore()
	token := signedToken(t, time.Now().Add(time.Hour))
	require.NoError(t, cache.SaveCredential(ctx, &store.Credential{AgentName: "DramaLlama", AgentID: "cached", Token: token}))

	reg := &fakeRegistrar{resp: &chain.RegisterResponse{AgentID: "fresh", Token: "tok"}}
	cell := NewCell()
	m := NewManager(reg, cache, cell, nil)

	cred, err := m.EnsureRegistered(ctx, testCharacter, true)
	require.NoError(t, err)
	assert.Equal(t, "cached", cred.AgentID)
	assert.Equal(t, 0, reg.count())

	got, _ := cell.Get()
	assert.Equal(t, "cached", got.AgentID)
}

func TestManager_EnsureRegistered_ExpiredCacheRegisters(t *testing.T) {
	ctx := context.Background()
	cache := store.NewMockStore()
	token := signedToken(t, time.Now().Add(-time.Hour))
	require.NoError(t, cache.SaveCredential(ctx, &store.Credential{AgentName: "DramaLlama", AgentID: "stale", Token: token}))

	reg := &fakeRegistrar{resp: &chain.RegisterResponse{AgentID: "fresh", Token: "tok"}}
	m := NewManager(reg, cache, NewCell(), nil)

	cred, err := m.EnsureRegistered(ctx, testCharacter, true)
	require.NoError(t, err)
	assert.Equal(t, "fresh", cred.AgentID)
	assert.Equal(t, 1, reg.count())

	cached, err := cache.GetCredential(ctx, "DramaLlama")
	require.NoError(t, err)
	assert.Equal(t, "fresh", cached.AgentID)
}

func TestManager_EnsureRegistered_AlwaysRegisters(t *testing.T) {
	ctx := context.Background()
	cache := store.NewMockStore()
	require.NoError(t, cache.SaveCredential(ctx, &store.Credential{AgentName: "DramaLlama", AgentID: "cached", Token: "opaque"}))

	reg := &fakeRegistrar{resp: &chain.RegisterResponse{AgentID: "fresh", Token: "tok"}}
	m := NewManager(reg, cache, NewCell(), nil)

	cred, err := m.EnsureRegistered(ctx, testCharacter, false)
	require.NoError(t, err)
	assert.Equal(t, "fresh", cred.AgentID)
	assert.Equal(t, 1, reg.count())
}

func TestManager_Restore_NoCache(t *testing.T) {
	m := NewManager(&fakeRegistrar{}, nil, NewCell(), nil)
	_, ok, err := m.Restore(context.Background(), "x")
	require.NoError(t, err)
	assert.False(t, ok)
}
