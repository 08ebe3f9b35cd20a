package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	forgehttp "github.com/yungbote/forge-backend/internal/http"
	"github.com/yungbote/forge-backend/internal/modules/build/buildtest"
	"github.com/yungbote/forge-backend/internal/platform/lock"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

func TestWiredRouterServesWorkflows(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := buildtest.New(t)
	s := wireServices(h.DB, h.Log, h.Repos, h.Provider, h.Build)
	router := forgehttp.NewRouter(wireRouter(h.Log, Config{}, s))
	tenant := uuid.NewString()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/tenants/"+tenant+"/workflows",
		strings.NewReader(`{"name":"App","identifier":"app"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upsert status: want=%d got=%d body=%s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tenants/"+tenant+"/workflows/app", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status: want=%d got=%d body=%s", http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tenants/"+uuid.NewString()+"/workflows/app", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cross-tenant status: want=%d got=%d", http.StatusNotFound, rec.Code)
	}
}

func TestResolveLockerLocal(t *testing.T) {
	l, closeFn, err := resolveLocker(logger.Nop(), Config{LockBackend: LockBackendLocal})
	if err != nil {
		t.Fatalf("resolveLocker: %v", err)
	}
	if _, ok := l.(*lock.Local); !ok {
		t.Fatalf("locker: want *lock.Local got=%T", l)
	}
	if closeFn != nil {
		t.Fatalf("local locker should not need closing")
	}
}

func TestResolveLockerRedisRequiresAddr(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	if _, _, err := resolveLocker(logger.Nop(), Config{LockBackend: LockBackendRedis}); err == nil {
		t.Fatalf("expected error without REDIS_ADDR")
	}
}
