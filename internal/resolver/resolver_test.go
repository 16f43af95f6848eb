package resolver

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapdeck/pkg/interfaces"
	"tapdeck/pkg/types"
)

type stubStore struct {
	interfaces.Store

	chips          map[string]*types.Chip
	videos         map[string]*types.Video
	profiles       map[string]*types.Profile
	watchedSeconds map[string]int
}

func (s *stubStore) GetChip(_ context.Context, uid string) (*types.Chip, error) {
	if chip, ok := s.chips[uid]; ok {
		return chip, nil
	}
	return nil, interfaces.ErrChipNotFound
}

func (s *stubStore) GetVideo(_ context.Context, id string) (*types.Video, error) {
	if video, ok := s.videos[id]; ok {
		return video, nil
	}
	return nil, interfaces.ErrVideoNotFound
}

func (s *stubStore) GetProfile(_ context.Context, id string) (*types.Profile, error) {
	if profile, ok := s.profiles[id]; ok {
		return profile, nil
	}
	return nil, interfaces.ErrProfileNotFound
}

func (s *stubStore) WatchedSecondsToday(_ context.Context, profileID string) (int, error) {
	return s.watchedSeconds[profileID], nil
}

func newStubStore() *stubStore {
	return &stubStore{
		chips: map[string]*types.Chip{
			"04a1b2c3d4": {UID: "04a1b2c3d4", VideoID: "vid-1", ProfileID: "kid-1", CapMinutes: 15},
			"04ffffffff": {UID: "04ffffffff", VideoID: "vid-1"},
			"04deadbeef": {UID: "04deadbeef", VideoID: "vid-gone"},
		},
		videos: map[string]*types.Video{
			"vid-1": {ID: "vid-1", Title: "Steam Trains", Platform: types.PlatformYouTube, PlatformRef: "dQw4w9WgXcQ"},
		},
		profiles: map[string]*types.Profile{
			"kid-1": {ID: "kid-1", Name: "Maya", DailyLimitMinutes: 60},
			"kid-2": {ID: "kid-2", Name: "Theo", DailyLimitMinutes: 0},
		},
		watchedSeconds: map[string]int{},
	}
}

func newResolver(store *stubStore) *Resolver {
	return NewResolver(store, zerolog.Nop())
}

func TestResolveChip_BoundProfile(t *testing.T) {
	r := newResolver(newStubStore())

	res, err := r.ResolveChip(context.Background(), "04a1b2c3d4", "")
	require.NoError(t, err)
	assert.Equal(t, "vid-1", res.Video.ID)
	assert.Equal(t, "kid-1", res.ProfileID)
	assert.Equal(t, 15, res.PerVideoCapMinutes)
}

func TestResolveChip_CallerProfileOverridesChip(t *testing.T) {
	r := newResolver(newStubStore())

	res, err := r.ResolveChip(context.Background(), "04a1b2c3d4", "kid-2")
	require.NoError(t, err)
	assert.Equal(t, "kid-2", res.ProfileID)
}

func TestResolveChip_UnattributedChip(t *testing.T) {
	r := newResolver(newStubStore())

	res, err := r.ResolveChip(context.Background(), "04ffffffff", "")
	require.NoError(t, err)
	assert.Empty(t, res.ProfileID)
	assert.Zero(t, res.PerVideoCapMinutes)
}

func TestResolveChip_UnknownChip(t *testing.T) {
	r := newResolver(newStubStore())

	_, err := r.ResolveChip(context.Background(), "0011223344", "")
	assert.ErrorIs(t, err, interfaces.ErrChipNotFound)
}

func TestResolveChip_MalformedUID(t *testing.T) {
	r := newResolver(newStubStore())

	for _, uid := range []string{"", "xyz", "04-a1-b2", "0441"} {
		_, err := r.ResolveChip(context.Background(), uid, "")
		assert.ErrorIs(t, err, types.ErrInvalidChipUID, "uid %q", uid)
	}
}

func TestResolveChip_DanglingVideoReference(t *testing.T) {
	r := newResolver(newStubStore())

	_, err := r.ResolveChip(context.Background(), "04deadbeef", "")
	assert.ErrorIs(t, err, interfaces.ErrChipNotFound)
}

func TestResolveChip_DailyBudgetSpent(t *testing.T) {
	store := newStubStore()
	store.watchedSeconds["kid-1"] = 3600
	r := newResolver(store)

	_, err := r.ResolveChip(context.Background(), "04a1b2c3d4", "")
	assert.ErrorIs(t, err, interfaces.ErrDailyLimitReached)
}

func TestResolveChip_UnlimitedProfileNeverBlocked(t *testing.T) {
	store := newStubStore()
	store.watchedSeconds["kid-2"] = 100000
	r := newResolver(store)

	res, err := r.ResolveChip(context.Background(), "04a1b2c3d4", "kid-2")
	require.NoError(t, err)
	assert.Equal(t, "kid-2", res.ProfileID)
}
