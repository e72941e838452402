package preference_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"school-notify/internal/domain/entity"
	"school-notify/internal/usecase/preference"
)

/*──────────────────── in-memory stub ────────────────────*/

type key struct {
	user string
	t    entity.NotificationType
}

type stubRepo struct {
	rows      map[key]entity.ChannelFlags
	err       error
	upsertErr error
	upserts   int
}

func newStub() *stubRepo {
	return &stubRepo{rows: map[key]entity.ChannelFlags{}}
}

func (s *stubRepo) ListByUser(_ context.Context, userID string) ([]*entity.Preference, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []*entity.Preference
	for k, v := range s.rows {
		if k.user == userID {
			out = append(out, &entity.Preference{UserID: k.user, Type: k.t, ChannelFlags: v})
		}
	}
	return out, nil
}

func (s *stubRepo) Get(_ context.Context, userID string, t entity.NotificationType) (*entity.Preference, error) {
	if s.err != nil {
		return nil, s.err
	}
	v, ok := s.rows[key{userID, t}]
	if !ok {
		return nil, nil
	}
	return &entity.Preference{UserID: userID, Type: t, ChannelFlags: v}, nil
}

// UpsertAll mimics the transactional repository: nothing is stored on error.
func (s *stubRepo) UpsertAll(_ context.Context, prefs []*entity.Preference) error {
	s.upserts++
	if s.upsertErr != nil {
		return s.upsertErr
	}
	for _, p := range prefs {
		s.rows[key{p.UserID, p.Type}] = p.ChannelFlags
	}
	return nil
}

/*──────────────────── tests ────────────────────*/

func TestCanSend_DefaultsToAllowed(t *testing.T) {
	svc := &preference.Service{Repo: newStub()}

	for _, typ := range entity.AllTypes {
		for _, ch := range []entity.Channel{entity.ChannelInApp, entity.ChannelEmail, entity.ChannelPush, entity.ChannelSMS} {
			ok, err := svc.CanSend(context.Background(), "never-seen", typ, ch)
			require.NoError(t, err)
			assert.True(t, ok, "%s/%s", typ, ch)
		}
	}
}

func TestCanSend_RespectsStoredFlags(t *testing.T) {
	repo := newStub()
	repo.rows[key{"u1", entity.TypeGrade}] = entity.ChannelFlags{InApp: true, Email: false, Push: true, SMS: false}
	svc := &preference.Service{Repo: repo}

	ok, err := svc.CanSend(context.Background(), "u1", entity.TypeGrade, entity.ChannelEmail)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.CanSend(context.Background(), "u1", entity.TypeGrade, entity.ChannelPush)
	require.NoError(t, err)
	assert.True(t, ok)

	// other types of the same user keep defaults
	ok, err = svc.CanSend(context.Background(), "u1", entity.TypeCourse, entity.ChannelEmail)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCanSend_InvalidInput(t *testing.T) {
	svc := &preference.Service{Repo: newStub()}

	_, err := svc.CanSend(context.Background(), "u1", "homework", entity.ChannelEmail)
	assert.ErrorIs(t, err, entity.ErrValidationFailed)

	_, err = svc.CanSend(context.Background(), "u1", entity.TypeGrade, "fax")
	assert.ErrorIs(t, err, entity.ErrValidationFailed)
}

func TestCanSend_RepoError(t *testing.T) {
	repo := newStub()
	repo.err = errors.New("db down")
	svc := &preference.Service{Repo: repo}

	_, err := svc.CanSend(context.Background(), "u1", entity.TypeGrade, entity.ChannelEmail)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestSetThenGetPreferences(t *testing.T) {
	svc := &preference.Service{Repo: newStub()}
	ctx := context.Background()

	quiet := entity.ChannelFlags{InApp: true}
	err := svc.SetPreferences(ctx, "u1", []entity.Preference{
		{Type: entity.TypeQuiz, ChannelFlags: quiet},
	})
	require.NoError(t, err)

	got, err := svc.GetPreferences(ctx, "u1")
	require.NoError(t, err)

	want := map[entity.NotificationType]entity.ChannelFlags{}
	for _, typ := range entity.AllTypes {
		want[typ] = entity.DefaultChannelFlags
	}
	want[entity.TypeQuiz] = quiet

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("preferences mismatch (-want +got):\n%s", diff)
	}
}

func TestSetPreferences_Validation(t *testing.T) {
	tests := []struct {
		name  string
		user  string
		prefs []entity.Preference
		want  error
	}{
		{
			name:  "empty user",
			user:  " ",
			prefs: []entity.Preference{{Type: entity.TypeQuiz}},
			want:  preference.ErrInvalidUserID,
		},
		{
			name: "empty list",
			user: "u1",
			want: entity.ErrValidationFailed,
		},
		{
			name:  "unknown type",
			user:  "u1",
			prefs: []entity.Preference{{Type: entity.TypeQuiz}, {Type: "homework"}},
			want:  entity.ErrValidationFailed,
		},
		{
			name:  "duplicate type",
			user:  "u1",
			prefs: []entity.Preference{{Type: entity.TypeQuiz}, {Type: entity.TypeQuiz, ChannelFlags: entity.DefaultChannelFlags}},
			want:  entity.ErrValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newStub()
			svc := &preference.Service{Repo: repo}

			err := svc.SetPreferences(context.Background(), tt.user, tt.prefs)
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, repo.upserts, "nothing may be written when validation fails")
			assert.Empty(t, repo.rows)
		})
	}
}

func TestSetPreferences_RepoFailureWritesNothing(t *testing.T) {
	repo := newStub()
	repo.upsertErr = errors.New("constraint violation")
	svc := &preference.Service{Repo: repo}

	err := svc.SetPreferences(context.Background(), "u1", []entity.Preference{
		{Type: entity.TypeQuiz},
		{Type: entity.TypeGrade},
	})
	require.Error(t, err)
	assert.Empty(t, repo.rows)
}

func TestSetPreferences_OverridesCallerUserID(t *testing.T) {
	repo := newStub()
	svc := &preference.Service{Repo: repo}

	err := svc.SetPreferences(context.Background(), "u1", []entity.Preference{
		{UserID: "someone-else", Type: entity.TypeQuiz},
	})
	require.NoError(t, err)

	_, stored := repo.rows[key{"u1", entity.TypeQuiz}]
	assert.True(t, stored)
	_, leaked := repo.rows[key{"someone-else", entity.TypeQuiz}]
	assert.False(t, leaked)
}

func TestGetPreferences_EmptyUser(t *testing.T) {
	svc := &preference.Service{Repo: newStub()}
	_, err := svc.GetPreferences(context.Background(), "")
	assert.ErrorIs(t, err, preference.ErrInvalidUserID)
}
