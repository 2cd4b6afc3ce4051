package workflow

import (
	"testing"

	"planner/api/internal/store"
)

func records(stage string, statuses ...string) []store.ApprovalRecord {
	items := make([]store.ApprovalRecord, 0, len(statuses))
	for _, status := range statuses {
		items = append(items, store.ApprovalRecord{Stage: stage, Status: status})
	}
	return items
}

func TestReduce(t *testing.T) {
	cases := []struct {
		name        string
		internal    []store.ApprovalRecord
		client      []store.ApprovalRecord
		wantChanged bool
		wantStatus  string
	}{
		{
			name:        "internal rejection cancels",
			internal:    records(store.StageInternal, store.ApprovalApproved, store.ApprovalRejected),
			wantChanged: true,
			wantStatus:  store.StatusCancelled,
		},
		{
			name:        "client rejection cancels",
			internal:    records(store.StageInternal, store.ApprovalApproved),
			client:      records(store.StageClient, store.ApprovalRejected),
			wantChanged: true,
			wantStatus:  store.StatusCancelled,
		},
		{
			name:        "rejection beats change request",
			internal:    records(store.StageInternal, store.ApprovalChangesRequested),
			client:      records(store.StageClient, store.ApprovalRejected),
			wantChanged: true,
			wantStatus:  store.StatusCancelled,
		},
		{
			name:        "client change request returns to draft",
			internal:    records(store.StageInternal, store.ApprovalApproved, store.ApprovalApproved),
			client:      records(store.StageClient, store.ApprovalChangesRequested),
			wantChanged: true,
			wantStatus:  store.StatusDraft,
		},
		{
			name:        "internal change request returns to draft",
			internal:    records(store.StageInternal, store.ApprovalApproved, store.ApprovalChangesRequested),
			wantChanged: true,
			wantStatus:  store.StatusDraft,
		},
		{
			name:        "change request beats client approval",
			internal:    records(store.StageInternal, store.ApprovalChangesRequested),
			client:      records(store.StageClient, store.ApprovalApproved),
			wantChanged: true,
			wantStatus:  store.StatusDraft,
		},
		{
			name:        "single client approval finalizes",
			client:      records(store.StageClient, store.ApprovalPending, store.ApprovalPending, store.ApprovalApproved),
			wantChanged: true,
			wantStatus:  store.StatusApproved,
		},
		{
			name:        "internal unanimity alone does not advance",
			internal:    records(store.StageInternal, store.ApprovalApproved, store.ApprovalApproved),
			wantChanged: false,
		},
		{
			name:        "partial internal approval waits",
			internal:    records(store.StageInternal, store.ApprovalApproved, store.ApprovalPending),
			wantChanged: false,
		},
		{
			name:        "empty sets leave status alone",
			wantChanged: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome := Reduce(tc.internal, tc.client)
			if outcome.Changed != tc.wantChanged {
				t.Fatalf("changed = %v, want %v", outcome.Changed, tc.wantChanged)
			}
			if tc.wantChanged && outcome.Status != tc.wantStatus {
				t.Fatalf("status = %q, want %q", outcome.Status, tc.wantStatus)
			}
		})
	}
}

func TestReduceIsIdempotent(t *testing.T) {
	internal := records(store.StageInternal, store.ApprovalApproved)
	client := records(store.StageClient, store.ApprovalApproved, store.ApprovalPending)

	first := Reduce(internal, client)
	for i := 0; i < 5; i++ {
		again := Reduce(internal, client)
		if again != first {
			t.Fatalf("run %d produced %+v, first run produced %+v", i+1, again, first)
		}
	}
	if first.Status != store.StatusApproved {
		t.Fatalf("status = %q, want %q", first.Status, store.StatusApproved)
	}
}

func TestNormalizeStage(t *testing.T) {
	cases := map[string]string{
		"Internal":        store.StageInternal,
		"Internal_Review": store.StageInternal,
		"Client":          store.StageClient,
		"Client_Review":   store.StageClient,
		"Published":       "",
	}
	for input, want := range cases {
		if got := NormalizeStage(input); got != want {
			t.Errorf("NormalizeStage(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestAllApproved(t *testing.T) {
	if AllApproved(nil) {
		t.Fatal("empty set must not count as approved")
	}
	if AllApproved(records(store.StageInternal, store.ApprovalApproved, store.ApprovalPending)) {
		t.Fatal("pending record must block unanimity")
	}
	if !AllApproved(records(store.StageInternal, store.ApprovalApproved, store.ApprovalApproved)) {
		t.Fatal("all-approved set must pass")
	}
}
