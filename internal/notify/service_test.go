package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"planner/api/internal/store"
)

type fakeNotificationStore struct {
	inserted []store.Notification
	failWith error
}

func (f *fakeNotificationStore) InsertNotification(_ context.Context, n store.Notification) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.inserted = append(f.inserted, n)
	return nil
}

type fakeMailer struct {
	configured bool
	requests   []string
	decisions  []string
}

func (f *fakeMailer) IsConfigured() bool { return f.configured }
func (f *fakeMailer) SendApprovalRequestEmail(to, postTitle, stage, reviewURL string) error {
	f.requests = append(f.requests, to+":"+stage)
	return nil
}
func (f *fakeMailer) SendDecisionEmail(to, postTitle, decision, decidedBy, notes string) error {
	f.decisions = append(f.decisions, to+":"+decision)
	return nil
}

var testPost = store.Post{
	ID:        "post-1",
	Title:     "Spring launch teaser",
	CreatedBy: "creator@agency.example",
}

func TestApprovalRequestedInternalStage(t *testing.T) {
	data := &fakeNotificationStore{}
	mail := &fakeMailer{configured: true}
	svc := NewService(data, mail, "https://planner.example", "agency.example")

	if err := svc.ApprovalRequested(context.Background(), "lead@agency.example", testPost, store.StageInternal); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(data.inserted) != 1 {
		t.Fatalf("in-app notifications = %d, want 1", len(data.inserted))
	}
	if data.inserted[0].ActionURL != "https://planner.example/posts/post-1" {
		t.Fatalf("action url = %q", data.inserted[0].ActionURL)
	}
	if len(mail.requests) != 1 {
		t.Fatalf("emails = %d, want 1", len(mail.requests))
	}
}

func TestApprovalRequestedClientStageExternalReviewer(t *testing.T) {
	data := &fakeNotificationStore{}
	mail := &fakeMailer{configured: true}
	svc := NewService(data, mail, "https://planner.example", "agency.example")

	if err := svc.ApprovalRequested(context.Background(), "jane@client.example", testPost, store.StageClient); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(data.inserted) != 0 {
		t.Fatal("external reviewers must not get in-app rows")
	}
	if len(mail.requests) != 1 {
		t.Fatalf("emails = %d, want 1", len(mail.requests))
	}
}

func TestApprovalRequestedClientStageInternalIdentity(t *testing.T) {
	data := &fakeNotificationStore{}
	svc := NewService(data, &fakeMailer{}, "", "agency.example")

	if err := svc.ApprovalRequested(context.Background(), "Account.Lead@Agency.Example", testPost, store.StageClient); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(data.inserted) != 1 {
		t.Fatal("internal-domain client reviewers still get an in-app row")
	}
}

func TestDecisionRecorded(t *testing.T) {
	data := &fakeNotificationStore{}
	mail := &fakeMailer{configured: true}
	svc := NewService(data, mail, "https://planner.example", "agency.example")

	record := store.ApprovalRecord{
		InvitedEmail:  "reviews@client.example",
		DecidedBy:     "jane@client.example",
		Status:        store.ApprovalChangesRequested,
		DecisionNotes: "Swap the second photo.",
	}
	if err := svc.DecisionRecorded(context.Background(), testPost, record); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(data.inserted) != 1 {
		t.Fatalf("in-app notifications = %d, want 1", len(data.inserted))
	}
	if !strings.Contains(data.inserted[0].Message, "jane@client.example") {
		t.Fatalf("message should name the decider, got %q", data.inserted[0].Message)
	}
	if !strings.Contains(data.inserted[0].Message, "Changes Requested") {
		t.Fatalf("message should spell out the decision, got %q", data.inserted[0].Message)
	}
	if len(mail.decisions) != 1 || mail.decisions[0] != "creator@agency.example:Changes_Requested" {
		t.Fatalf("decision emails = %v", mail.decisions)
	}
}

func TestDecisionRecordedSkipsUnknownCreator(t *testing.T) {
	data := &fakeNotificationStore{}
	svc := NewService(data, &fakeMailer{configured: true}, "", "")

	post := testPost
	post.CreatedBy = ""
	if err := svc.DecisionRecorded(context.Background(), post, store.ApprovalRecord{Status: store.ApprovalApproved}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(data.inserted) != 0 {
		t.Fatal("no notification without a creator")
	}
}

func TestStoreFailureIsReturnedNotPanicked(t *testing.T) {
	data := &fakeNotificationStore{failWith: errors.New("db down")}
	svc := NewService(data, &fakeMailer{}, "", "agency.example")

	err := svc.ApprovalRequested(context.Background(), "lead@agency.example", testPost, store.StageInternal)
	if err == nil {
		t.Fatal("expected an error the caller can log")
	}
}
