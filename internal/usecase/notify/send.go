package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"school-notify/internal/domain/entity"
	"school-notify/internal/observability/logging"
)

// BulkInput is one notification addressed to many recipients.
type BulkInput struct {
	RecipientIDs []string
	Type         entity.NotificationType
	Title        string
	Message      string
	Priority     entity.Priority
	ActionURL    string
	Icon         string
	ExpiresAt    *time.Time
	Data         json.RawMessage
	DataVersion  int
}

// BulkResult reports the outcome of SendBulk per recipient.
type BulkResult struct {
	// Created maps recipient ID to the new notification ID.
	Created map[string]string `json:"created"`
	// Failed maps recipient ID to a client-safe reason.
	Failed map[string]string `json:"failed,omitempty"`
}

func (in BulkInput) forRecipient(id string) NotifyInput {
	return NotifyInput{
		RecipientID: id,
		Type:        in.Type,
		Title:       in.Title,
		Message:     in.Message,
		Priority:    in.Priority,
		ActionURL:   in.ActionURL,
		Icon:        in.Icon,
		ExpiresAt:   in.ExpiresAt,
		Data:        in.Data,
		DataVersion: in.DataVersion,
	}
}

func (s *service) SendBulk(ctx context.Context, in BulkInput) (*BulkResult, error) {
	recipients := dedupe(in.RecipientIDs)
	if len(recipients) == 0 {
		return nil, &entity.ValidationError{Field: "recipient_ids", Message: "at least one recipient is required"}
	}
	if len(recipients) > s.cfg.MaxBulkRecipients {
		return nil, &entity.ValidationError{
			Field:   "recipient_ids",
			Message: fmt.Sprintf("too many recipients (max %d)", s.cfg.MaxBulkRecipients),
		}
	}
	// the content is shared, so one recipient is enough to validate it
	if _, err := s.prepare(in.forRecipient(recipients[0])); err != nil {
		return nil, err
	}

	res := &BulkResult{Created: make(map[string]string, len(recipients)), Failed: map[string]string{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BulkConcurrency)
	for _, id := range recipients {
		g.Go(func() error {
			n, err := s.Notify(gctx, in.forRecipient(id))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed[id] = "could not create notification"
				logging.WithRequestID(ctx, s.logger).Warn("bulk notify failed",
					slog.String("recipient_id", id),
					slog.Any("error", err))
				return nil
			}
			res.Created[id] = n.ID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("send bulk: %w", err)
	}
	return res, nil
}

// PushInput is a push-only delivery to all of a user's devices.
type PushInput struct {
	UserID string
	// TemplateName selects the template; empty means the push template of Type.
	TemplateName string
	Type         entity.NotificationType
	Title        string
	Message      string
	Priority     entity.Priority
	Data         map[string]string
}

func (s *service) SendPush(ctx context.Context, in PushInput) (int, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return 0, &entity.ValidationError{Field: "user_id", Message: "user_id is required"}
	}
	t, name, err := s.resolveTemplate(in.TemplateName, in.Type, entity.ChannelPush)
	if err != nil {
		return 0, err
	}
	priority, err := entity.ParsePriority(string(in.Priority))
	if err != nil {
		return 0, err
	}

	ok, err := s.preferences.CanSend(ctx, in.UserID, t, entity.ChannelPush)
	if err != nil {
		return 0, fmt.Errorf("check preference: %w", err)
	}
	if !ok {
		RecordSkipped(string(entity.ChannelPush), "opted_out")
		return 0, ErrOptedOut
	}

	tokens, err := s.addresses(ctx, in.UserID, entity.ChannelPush)
	if err != nil {
		return 0, fmt.Errorf("list push subscriptions: %w", err)
	}
	if len(tokens) == 0 {
		RecordSkipped(string(entity.ChannelPush), "no_address")
		return 0, ErrNoAddress
	}

	data := maps.Clone(in.Data)
	if data == nil {
		data = map[string]string{}
	}
	if in.Title != "" {
		data["title"] = in.Title
	}
	if in.Message != "" {
		data["message"] = in.Message
	}

	queued := 0
	for _, token := range tokens {
		_, err := s.enqueue(ctx, &entity.DeliveryJob{
			Channel:      entity.ChannelPush,
			Address:      token,
			TemplateName: name,
			TemplateData: data,
			RecipientID:  in.UserID,
			MaxAttempts:  s.cfg.MaxAttempts,
		}, priority.JobPriority())
		if err != nil {
			return queued, fmt.Errorf("enqueue push: %w", err)
		}
		queued++
	}
	return queued, nil
}

// EmailInput is a direct, template-driven email to one user.
type EmailInput struct {
	UserID       string
	TemplateName string
	Priority     entity.Priority
	Data         map[string]string
}

func (s *service) SendTemplatedEmail(ctx context.Context, in EmailInput) (int64, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return 0, &entity.ValidationError{Field: "user_id", Message: "user_id is required"}
	}
	if strings.TrimSpace(in.TemplateName) == "" {
		return 0, &entity.ValidationError{Field: "template", Message: "template is required"}
	}
	t, name, err := s.resolveTemplate(in.TemplateName, "", entity.ChannelEmail)
	if err != nil {
		return 0, err
	}
	priority, err := entity.ParsePriority(string(in.Priority))
	if err != nil {
		return 0, err
	}

	ok, err := s.preferences.CanSend(ctx, in.UserID, t, entity.ChannelEmail)
	if err != nil {
		return 0, fmt.Errorf("check preference: %w", err)
	}
	if !ok {
		RecordSkipped(string(entity.ChannelEmail), "opted_out")
		return 0, ErrOptedOut
	}

	addrs, err := s.addresses(ctx, in.UserID, entity.ChannelEmail)
	if err != nil {
		return 0, fmt.Errorf("get contact: %w", err)
	}
	if len(addrs) == 0 {
		RecordSkipped(string(entity.ChannelEmail), "no_address")
		return 0, ErrNoAddress
	}

	data := maps.Clone(in.Data)
	if data == nil {
		data = map[string]string{}
	}
	id, err := s.enqueue(ctx, &entity.DeliveryJob{
		Channel:      entity.ChannelEmail,
		Address:      addrs[0],
		TemplateName: name,
		TemplateData: data,
		RecipientID:  in.UserID,
		MaxAttempts:  s.cfg.MaxAttempts,
	}, priority.JobPriority())
	if err != nil {
		return 0, fmt.Errorf("enqueue email: %w", err)
	}
	return id, nil
}

// resolveTemplate returns the category and name of the template to use.
// An explicit name must exist in the catalog; otherwise the default template
// of t on ch is used.
func (s *service) resolveTemplate(name string, t entity.NotificationType, ch entity.Channel) (entity.NotificationType, string, error) {
	if name != "" {
		cat, ok := s.templates.CategoryOf(name)
		if !ok {
			return "", "", fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
		}
		if tc, _ := s.templates.ChannelOf(name); tc != ch {
			return "", "", &entity.ValidationError{
				Field:   "template",
				Message: fmt.Sprintf("template %q is not a %s template", name, ch),
			}
		}
		return cat, name, nil
	}
	if !t.Valid() {
		return "", "", &entity.ValidationError{Field: "type", Message: fmt.Sprintf("invalid notification type %q", t)}
	}
	return t, s.templates.TemplateFor(t, ch), nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
