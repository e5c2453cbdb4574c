package tag

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/Adam5421/SmartAIExam/internal/apperr"
	"github.com/Adam5421/SmartAIExam/internal/db"
	"github.com/Adam5421/SmartAIExam/internal/oplog"
)

type recordingAudit struct {
	entries []oplog.Entry
}

func (a *recordingAudit) Record(ctx context.Context, e oplog.Entry) {
	a.entries = append(a.entries, e)
}

func ptr(v int64) *int64 { return &v }

func TestWouldCycle(t *testing.T) {
	// 1 -> 2 -> 3 (3 is a child of 2, 2 a child of 1), 4 is a separate root.
	parents := map[int64]*int64{
		1: nil,
		2: ptr(1),
		3: ptr(2),
		4: nil,
	}
	tests := []struct {
		name      string
		id        int64
		newParent int64
		want      bool
	}{
		{name: "under own child", id: 1, newParent: 3, want: true},
		{name: "under itself", id: 2, newParent: 2, want: true},
		{name: "under sibling root", id: 1, newParent: 4, want: false},
		{name: "leaf under other root", id: 3, newParent: 4, want: false},
		{name: "child moved up", id: 3, newParent: 1, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := wouldCycle(parents, tc.id, tc.newParent); got != tc.want {
				t.Fatalf("wouldCycle(%d,%d)=%v want %v", tc.id, tc.newParent, got, tc.want)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	if _, err := validateName("   "); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	got, err := validateName("  math ")
	if err != nil || got != "math" {
		t.Fatalf("unexpected result %q %v", got, err)
	}
}

func TestMergeNamesDedupsInOrder(t *testing.T) {
	got := mergeNames([]string{"math", " algebra"}, []string{"algebra", "linear", "math"})
	want := []string{"math", "algebra", "linear"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("mergeNames()=%v want %v", got, want)
	}
}

func TestResolveParent(t *testing.T) {
	current := ptr(1)
	if got := resolveParent(current, Input{Name: "renamed"}); got != current {
		t.Fatalf("an absent parent must keep the current one, got %v", got)
	}
	if got := resolveParent(current, Input{ParentSet: true}); got != nil {
		t.Fatalf("an explicit null must detach, got %v", *got)
	}
	if got := resolveParent(current, Input{ParentSet: true, ParentID: ptr(4)}); got == nil || *got != 4 {
		t.Fatalf("expected new parent 4, got %v", got)
	}
}

func TestRejectedMutationsAreAudited(t *testing.T) {
	audit := &recordingAudit{}
	svc := NewService(nil, db.DefaultRetrier(), audit, nil)
	ctx := context.Background()

	if _, err := svc.Create(ctx, Input{Name: "  ", Actor: "alice"}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("create: expected validation error, got %v", err)
	}
	if _, err := svc.Update(ctx, 3, Input{ParentID: ptr(3), ParentSet: true, Actor: "alice"}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("self parent: expected validation error, got %v", err)
	}
	if _, err := svc.Update(ctx, 3, Input{Name: strings.Repeat("x", 65), Actor: "alice"}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("long name: expected validation error, got %v", err)
	}

	if len(audit.entries) != 3 {
		t.Fatalf("expected 3 audit entries, got %d", len(audit.entries))
	}
	wantActions := []string{"create", "update", "update"}
	for i, e := range audit.entries {
		if e.Action != wantActions[i] || e.Status != oplog.StatusFailure || e.ErrorMessage == nil || e.UserID != "alice" || e.TargetType != "tag" {
			t.Fatalf("entry %d unexpected: %+v", i, e)
		}
	}
	if ids := audit.entries[1].TargetIDs; len(ids) != 1 || ids[0] != 3 {
		t.Fatalf("update entry must target tag 3, got %v", ids)
	}
}
