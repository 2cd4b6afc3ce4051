// Package notify delivers approval notifications, in-app and by email.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"planner/api/internal/store"
	"planner/api/internal/util"
)

type notificationStore interface {
	InsertNotification(ctx context.Context, n store.Notification) error
}

type mailer interface {
	IsConfigured() bool
	SendApprovalRequestEmail(to, postTitle, stage, reviewURL string) error
	SendDecisionEmail(to, postTitle, decision, decidedBy, notes string) error
}

// Service fans a workflow event out to the in-app notification table and
// the mailer. Callers treat failures as non-fatal.
type Service struct {
	store          notificationStore
	mail           mailer
	appURL         string
	internalDomain string
}

func NewService(dataStore notificationStore, mail mailer, appURL, internalDomain string) *Service {
	return &Service{
		store:          dataStore,
		mail:           mail,
		appURL:         strings.TrimRight(appURL, "/"),
		internalDomain: strings.TrimPrefix(strings.ToLower(internalDomain), "@"),
	}
}

// ApprovalRequested notifies one approver that a post awaits their review.
// Client-stage approvers only get an in-app row when they carry an
// internal-domain address; external reviewers work from email alone.
func (s *Service) ApprovalRequested(ctx context.Context, approverEmail string, post store.Post, stage string) error {
	var errs []error

	if stage != store.StageClient || s.isInternal(approverEmail) {
		if err := s.store.InsertNotification(ctx, store.Notification{
			ID:        util.NewID("ntf"),
			UserEmail: approverEmail,
			Message:   fmt.Sprintf("%q is waiting for your %s review", post.Title, strings.ToLower(stage)),
			Type:      store.NotificationApprovalRequest,
			PostID:    post.ID,
			ActionURL: s.postURL(post.ID),
		}); err != nil {
			errs = append(errs, fmt.Errorf("insert request notification: %w", err))
		}
	}

	if s.mail != nil && s.mail.IsConfigured() {
		if err := s.mail.SendApprovalRequestEmail(approverEmail, post.Title, stage, s.postURL(post.ID)); err != nil {
			errs = append(errs, fmt.Errorf("send request email: %w", err))
		}
	}

	return errors.Join(errs...)
}

// DecisionRecorded notifies the post creator of a reviewer's decision.
func (s *Service) DecisionRecorded(ctx context.Context, post store.Post, record store.ApprovalRecord) error {
	if post.CreatedBy == "" {
		return nil
	}
	decider := record.DecidedBy
	if decider == "" {
		decider = record.InvitedEmail
	}

	var errs []error
	message := fmt.Sprintf("%s marked %q as %s", decider, post.Title, strings.ReplaceAll(record.Status, "_", " "))
	if err := s.store.InsertNotification(ctx, store.Notification{
		ID:        util.NewID("ntf"),
		UserEmail: post.CreatedBy,
		Message:   message,
		Type:      store.NotificationApprovalDecision,
		PostID:    post.ID,
		ActionURL: s.postURL(post.ID),
	}); err != nil {
		errs = append(errs, fmt.Errorf("insert decision notification: %w", err))
	}

	if s.mail != nil && s.mail.IsConfigured() {
		if err := s.mail.SendDecisionEmail(post.CreatedBy, post.Title, record.Status, decider, record.DecisionNotes); err != nil {
			errs = append(errs, fmt.Errorf("send decision email: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (s *Service) isInternal(email string) bool {
	if s.internalDomain == "" {
		return false
	}
	return strings.HasSuffix(strings.ToLower(email), "@"+s.internalDomain)
}

func (s *Service) postURL(postID string) string {
	if s.appURL == "" {
		return ""
	}
	return s.appURL + "/posts/" + postID
}
