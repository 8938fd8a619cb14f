package audithttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/dealerledger/internal/audit"
	"github.com/odyssey-erp/dealerledger/internal/shared"
)

type stubTimelineService struct {
	result      audit.Result
	exportRows  []audit.TimelineRow
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(_ context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubTimelineService) Export(_ context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error) {
	s.lastFilters = filters
	return s.exportRows, nil
}

func newAuditRouter(service *stubTimelineService) (http.Handler, uuid.UUID) {
	h := NewHandler(nil, service)
	h.now = func() time.Time { return time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC) }
	actor := uuid.New()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get("X-User-ID") != "" {
				req = req.WithContext(shared.ContextWithActor(req.Context(), actor))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/audit", h.MountRoutes)
	return r, actor
}

func get(router http.Handler, target string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if authed {
		req.Header.Set("X-User-ID", "set")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestTimelineDefaultsAndFilters(t *testing.T) {
	service := &stubTimelineService{result: audit.Result{Paging: audit.PagingInfo{Page: 1, PageSize: 20}}}
	router, _ := newAuditRouter(service)

	rec := get(router, "/audit/", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"rows":[],"paging":{"page":1,"page_size":20,"has_next":false}}`, rec.Body.String())
	require.Equal(t, time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), service.lastFilters.From)
	require.Equal(t, time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC), service.lastFilters.To)

	who := uuid.New()
	rec = get(router, "/audit/?entity=voucher&action=sale.post&page=2&page_size=500&actor="+who.String(), true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "voucher", service.lastFilters.Entity)
	require.Equal(t, "sale.post", service.lastFilters.Action)
	require.Equal(t, 2, service.lastFilters.Page)
	require.Equal(t, maxPageSize, service.lastFilters.PageSize)
	require.Equal(t, who, service.lastFilters.Actor)
}

func TestTimelineRejectsBadFilters(t *testing.T) {
	router, _ := newAuditRouter(&stubTimelineService{})
	for _, q := range []string{"?from=2026-03-10&to=2026-03-01", "?from=2025-01-01&to=2026-03-01", "?page=0", "?actor=nope", "?to=yesterday"} {
		rec := get(router, "/audit/"+q, true)
		require.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
	require.Equal(t, http.StatusUnauthorized, get(router, "/audit/", false).Code)
}

func TestExportWritesCSV(t *testing.T) {
	actor := uuid.New()
	service := &stubTimelineService{exportRows: []audit.TimelineRow{{
		At:       time.Date(2026, 3, 14, 8, 30, 0, 0, time.UTC),
		Actor:    actor,
		Action:   "stock.edit",
		Entity:   "product",
		EntityID: "p-1",
		Meta:     map[string]any{"method": "delta"},
	}}}
	router, _ := newAuditRouter(service)

	rec := get(router, "/audit/export.csv?entity_id=p-1", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "occurred_at,actor,action,entity,entity_id,meta", lines[0])
	require.Equal(t, `2026-03-14T08:30:00Z,`+actor.String()+`,stock.edit,product,p-1,"{""method"":""delta""}"`, lines[1])
	require.Equal(t, "p-1", service.lastFilters.EntityID)
}
