package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/Adam5421/SmartAIExam/internal/apperr"
)

type mockReportService struct {
	availabilityFn func(ctx context.Context, tags []string) (*Availability, error)
}

func (m *mockReportService) Availability(ctx context.Context, tags []string) (*Availability, error) {
	if m.availabilityFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.availabilityFn(ctx, tags)
}

func TestAvailabilityPassesTags(t *testing.T) {
	h := &Handler{svc: &mockReportService{
		availabilityFn: func(ctx context.Context, tags []string) (*Availability, error) {
			if !reflect.DeepEqual(tags, []string{"math,go", "db"}) {
				t.Fatalf("unexpected tags %v", tags)
			}
			return tabulate(cleanTags(tags), []Bucket{{Type: "judge", Difficulty: 3, Count: 2}}), nil
		},
	}}
	rr := httptest.NewRecorder()
	h.Availability(rr, httptest.NewRequest(http.MethodGet, "/reports/availability?tags=math,go&tags=db", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got Availability
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Total != 2 || got.ByType["judge"] != 2 || len(got.Tags) != 3 {
		t.Fatalf("unexpected body %+v", got)
	}
}

func TestAvailabilityStoreDown(t *testing.T) {
	h := &Handler{svc: &mockReportService{
		availabilityFn: func(ctx context.Context, tags []string) (*Availability, error) {
			return nil, apperr.ErrStoreUnavailable
		},
	}}
	rr := httptest.NewRecorder()
	h.Availability(rr, httptest.NewRequest(http.MethodGet, "/reports/availability", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
