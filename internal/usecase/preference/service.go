package preference

import (
	"context"
	"fmt"
	"strings"

	"school-notify/internal/domain/entity"
	"school-notify/internal/repository"
)

// Service reads and writes notification preferences.
type Service struct {
	Repo repository.PreferenceRepository
}

// GetPreferences returns the effective flags for every notification type.
// Stored rows override the defaults; types the user never customised keep
// DefaultChannelFlags.
func (s *Service) GetPreferences(ctx context.Context, userID string) (map[entity.NotificationType]entity.ChannelFlags, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidUserID
	}

	rows, err := s.Repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}

	out := make(map[entity.NotificationType]entity.ChannelFlags, len(entity.AllTypes))
	for _, t := range entity.AllTypes {
		out[t] = entity.DefaultChannelFlags
	}
	for _, p := range rows {
		if p.Type.Valid() {
			out[p.Type] = p.ChannelFlags
		}
	}
	return out, nil
}

// SetPreferences stores every entry or none of them. The whole request is
// validated before anything is written; a type listed twice is rejected.
func (s *Service) SetPreferences(ctx context.Context, userID string, prefs []entity.Preference) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidUserID
	}
	if len(prefs) == 0 {
		return &entity.ValidationError{Field: "preferences", Message: "at least one preference is required"}
	}

	seen := make(map[entity.NotificationType]struct{}, len(prefs))
	rows := make([]*entity.Preference, 0, len(prefs))
	for i := range prefs {
		p := prefs[i]
		p.UserID = userID
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := seen[p.Type]; dup {
			return &entity.ValidationError{
				Field:   "type",
				Message: fmt.Sprintf("notification type %q listed more than once", p.Type),
			}
		}
		seen[p.Type] = struct{}{}
		rows = append(rows, &p)
	}

	if err := s.Repo.UpsertAll(ctx, rows); err != nil {
		return fmt.Errorf("upsert preferences: %w", err)
	}
	return nil
}

// Lookup returns the effective flags of one type in a single read.
func (s *Service) Lookup(ctx context.Context, userID string, t entity.NotificationType) (entity.ChannelFlags, error) {
	if !t.Valid() {
		return entity.ChannelFlags{}, &entity.ValidationError{Field: "type", Message: fmt.Sprintf("invalid notification type %q", t)}
	}
	p, err := s.Repo.Get(ctx, userID, t)
	if err != nil {
		return entity.ChannelFlags{}, fmt.Errorf("get preference: %w", err)
	}
	if p == nil {
		return entity.DefaultChannelFlags, nil
	}
	return p.ChannelFlags, nil
}

// CanSend reports whether userID accepts notifications of type t on channel ch.
func (s *Service) CanSend(ctx context.Context, userID string, t entity.NotificationType, ch entity.Channel) (bool, error) {
	if !ch.Valid() {
		return false, &entity.ValidationError{Field: "channel", Message: fmt.Sprintf("invalid channel %q", ch)}
	}
	flags, err := s.Lookup(ctx, userID, t)
	if err != nil {
		return false, err
	}
	return flags.Allows(ch), nil
}
