package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/xuan1250/Transfer2Read-sub004/internal/data/repos/jobs"
	"github.com/xuan1250/Transfer2Read-sub004/internal/domain"
	"github.com/xuan1250/Transfer2Read-sub004/internal/services"
)

type fakeJobService struct {
	submit func(services.SubmitRequest) (*services.JobView, error)
	get    func(uuid.UUID) (*services.JobView, error)
	cancel func(uuid.UUID) (*services.JobView, error)
}

func (f *fakeJobService) Submit(_ context.Context, req services.SubmitRequest) (*services.JobView, error) {
	return f.submit(req)
}

func (f *fakeJobService) GetByID(_ context.Context, id uuid.UUID) (*services.JobView, error) {
	return f.get(id)
}

func (f *fakeJobService) RequestCancel(_ context.Context, id uuid.UUID) (*services.JobView, error) {
	return f.cancel(id)
}

func newTestRouter(svc services.JobService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewJobHandler(svc)
	r := gin.New()
	r.POST("/api/conversions", h.Submit)
	r.GET("/api/conversions/:id", h.Get)
	r.POST("/api/conversions/:id/cancel", h.Cancel)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSubmitAccepted(t *testing.T) {
	accountID := uuid.New()
	jobID := uuid.New()
	svc := &fakeJobService{
		submit: func(req services.SubmitRequest) (*services.JobView, error) {
			if req.AccountID != accountID || req.InputRef != "uploads/in.pdf" {
				t.Fatalf("unexpected request: %+v", req)
			}
			return &services.JobView{
				ID:        jobID,
				AccountID: req.AccountID,
				Status:    domain.StatusQueued,
				InputRef:  req.InputRef,
				SizeClass: domain.SizeClassSimple,
			}, nil
		},
	}

	w := doJSON(t, newTestRouter(svc), http.MethodPost, "/api/conversions", map[string]any{
		"account_id": accountID,
		"input_ref":  "uploads/in.pdf",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
	var view services.JobView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.ID != jobID || view.Status != domain.StatusQueued {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestSubmitValidationError(t *testing.T) {
	svc := &fakeJobService{
		submit: func(services.SubmitRequest) (*services.JobView, error) {
			return nil, domain.NewError(domain.KindValidation, "input_ref is required")
		},
	}

	w := doJSON(t, newTestRouter(svc), http.MethodPost, "/api/conversions", map[string]any{
		"account_id": uuid.New(),
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var env ErrorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error.Code != string(domain.KindValidation) {
		t.Fatalf("code = %q, want %q", env.Error.Code, domain.KindValidation)
	}
}

func TestSubmitMalformedBody(t *testing.T) {
	svc := &fakeJobService{
		submit: func(services.SubmitRequest) (*services.JobView, error) {
			t.Fatal("service reached with malformed body")
			return nil, nil
		},
	}

	r := newTestRouter(svc)
	req := httptest.NewRequest(http.MethodPost, "/api/conversions", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestGetInvalidID(t *testing.T) {
	svc := &fakeJobService{
		get: func(uuid.UUID) (*services.JobView, error) {
			t.Fatal("service reached with invalid id")
			return nil, nil
		},
	}

	w := doJSON(t, newTestRouter(svc), http.MethodGet, "/api/conversions/not-a-uuid", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestGetNotFound(t *testing.T) {
	svc := &fakeJobService{
		get: func(uuid.UUID) (*services.JobView, error) {
			return nil, jobs.ErrNotFound
		},
	}

	w := doJSON(t, newTestRouter(svc), http.MethodGet, "/api/conversions/"+uuid.NewString(), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestGetReturnsView(t *testing.T) {
	jobID := uuid.New()
	svc := &fakeJobService{
		get: func(id uuid.UUID) (*services.JobView, error) {
			if id != jobID {
				t.Fatalf("id = %s, want %s", id, jobID)
			}
			return &services.JobView{
				ID:        jobID,
				Status:    domain.StatusCompleted,
				Progress:  100,
				OutputRef: "converted/out.epub",
				Report:    &domain.QualityReport{OverallConfidence: 0.91},
			}, nil
		},
	}

	w := doJSON(t, newTestRouter(svc), http.MethodGet, "/api/conversions/"+jobID.String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var view services.JobView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.OutputRef != "converted/out.epub" || view.Report == nil || view.Report.OverallConfidence != 0.91 {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestCancel(t *testing.T) {
	jobID := uuid.New()
	svc := &fakeJobService{
		cancel: func(id uuid.UUID) (*services.JobView, error) {
			return &services.JobView{ID: id, Status: domain.StatusCancelled}, nil
		},
	}

	w := doJSON(t, newTestRouter(svc), http.MethodPost, "/api/conversions/"+jobID.String()+"/cancel", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var view services.JobView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", view.Status)
	}
}

func TestStorageFailureMapsToServiceUnavailable(t *testing.T) {
	svc := &fakeJobService{
		cancel: func(uuid.UUID) (*services.JobView, error) {
			return nil, domain.NewError(domain.KindStorageFailure, "state store unavailable")
		},
	}

	w := doJSON(t, newTestRouter(svc), http.MethodPost, "/api/conversions/"+uuid.NewString()+"/cancel", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}
