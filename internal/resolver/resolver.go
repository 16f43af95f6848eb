package resolver

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"tapdeck/pkg/interfaces"
	"tapdeck/pkg/types"
)

// Resolver maps scanned chip UIDs to playable content using the library
// tables. A profileID passed by the caller overrides the chip's bound
// profile, which lets a kiosk locked to one child reuse shared chips.
type Resolver struct {
	db     interfaces.Store
	logger zerolog.Logger
}

// NewResolver creates a chip resolver backed by the library store.
func NewResolver(db interfaces.Store, logger zerolog.Logger) *Resolver {
	return &Resolver{
		db:     db,
		logger: logger.With().Str("component", "resolver").Logger(),
	}
}

// ResolveChip validates the UID, loads the chip's video and decides which
// profile the viewing is attributed to. The daily budget is checked here so
// a chip tap by an over-budget child fails before any session exists.
func (r *Resolver) ResolveChip(ctx context.Context, chipUID, profileID string) (*types.Resolution, error) {
	if !types.IsValidChipUID(chipUID) {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidChipUID, chipUID)
	}
	if profileID != "" && !types.IsValidProfileID(profileID) {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidProfileID, profileID)
	}

	chip, err := r.db.GetChip(ctx, chipUID)
	if err != nil {
		return nil, err
	}

	video, err := r.db.GetVideo(ctx, chip.VideoID)
	if err != nil {
		// A chip pointing at a deleted video is indistinguishable from an
		// unmapped chip as far as the kiosk is concerned.
		r.logger.Warn().
			Str("chip_uid", chipUID).
			Str("video_id", chip.VideoID).
			Msg("chip references missing video")
		return nil, interfaces.ErrChipNotFound
	}

	resolved := profileID
	if resolved == "" {
		resolved = chip.ProfileID
	}

	if resolved != "" {
		if err := r.checkDailyBudget(ctx, resolved); err != nil {
			return nil, err
		}
	}

	r.logger.Debug().
		Str("chip_uid", chipUID).
		Str("video_id", video.ID).
		Str("profile_id", resolved).
		Msg("chip resolved")

	return &types.Resolution{
		Video:              video,
		ProfileID:          resolved,
		PerVideoCapMinutes: chip.CapMinutes,
	}, nil
}

func (r *Resolver) checkDailyBudget(ctx context.Context, profileID string) error {
	profile, err := r.db.GetProfile(ctx, profileID)
	if err != nil {
		return err
	}
	if profile.DailyLimitMinutes <= 0 {
		return nil
	}

	seconds, err := r.db.WatchedSecondsToday(ctx, profileID)
	if err != nil {
		return err
	}
	if seconds/60 >= profile.DailyLimitMinutes {
		return interfaces.ErrDailyLimitReached
	}
	return nil
}
