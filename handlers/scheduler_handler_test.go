package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-relay/models"
	"github.com/upb/llm-relay/services/accounts"
	"github.com/upb/llm-relay/services/groups"
	"github.com/upb/llm-relay/services/modelgate"
	"github.com/upb/llm-relay/services/scheduler"
	"github.com/upb/llm-relay/services/sessions"
	"go.uber.org/zap"
)

type schedulerFixture struct {
	handler *SchedulerHandler
	dirs    map[models.AccountType]*accounts.MemoryDirectory
	groups  *groups.MemoryResolver
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()

	logger := zap.NewNop()
	registry := accounts.NewRegistry(logger)
	dirs := make(map[models.AccountType]*accounts.MemoryDirectory)
	for _, accountType := range models.AllAccountTypes {
		dir := accounts.NewMemoryDirectory(accountType, nil, nil)
		registry.Register(dir)
		dirs[accountType] = dir
	}

	resolver := groups.NewMemoryResolver()
	svc := scheduler.NewService(
		scheduler.DefaultConfig(),
		registry,
		resolver,
		sessions.NewMemoryStore(),
		modelgate.NewGate(modelgate.DefaultGateConfig()),
		logger,
	)

	return &schedulerFixture{
		handler: NewSchedulerHandler(svc, logger),
		dirs:    dirs,
		groups:  resolver,
	}
}

func (f *schedulerFixture) addShared(id string, accountType models.AccountType) {
	account := models.NewAccount(accountType, id)
	account.ID = id
	f.dirs[accountType].Put(account)
}

func postJSON(handler http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestHandleSelectAccount(t *testing.T) {
	t.Run("selects from the pool", func(t *testing.T) {
		f := newSchedulerFixture(t)
		f.addShared("oa1", models.AccountTypeOAuth)

		w := postJSON(f.handler.HandleSelectAccount, "/api/v1/scheduler/select",
			`{"api_key_id":"k1","requested_model":"claude-sonnet-4"}`)

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		data := response["data"].(map[string]interface{})
		assert.Equal(t, "oa1", data["account_id"])
		assert.Equal(t, "oauth", data["account_type"])
	})

	t.Run("missing api key id is a validation error", func(t *testing.T) {
		f := newSchedulerFixture(t)

		w := postJSON(f.handler.HandleSelectAccount, "/api/v1/scheduler/select", `{}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed body is a bad request", func(t *testing.T) {
		f := newSchedulerFixture(t)

		w := postJSON(f.handler.HandleSelectAccount, "/api/v1/scheduler/select", `{not json`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unparseable binding is a bad request", func(t *testing.T) {
		f := newSchedulerFixture(t)

		w := postJSON(f.handler.HandleSelectAccount, "/api/v1/scheduler/select",
			`{"api_key_id":"k1","console_binding":"mystery:group:g1"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("empty pool maps to 503", func(t *testing.T) {
		f := newSchedulerFixture(t)

		w := postJSON(f.handler.HandleSelectAccount, "/api/v1/scheduler/select",
			`{"api_key_id":"k1"}`)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("rate-limited dedicated oauth maps to 429 with reset detail", func(t *testing.T) {
		f := newSchedulerFixture(t)
		account := models.NewAccount(models.AccountTypeOAuth, "oa1")
		account.ID = "oa1"
		account.PoolKind = models.PoolDedicated
		f.dirs[models.AccountTypeOAuth].Put(account)

		resetAt := time.Now().Add(30 * time.Minute)
		require.NoError(t, f.dirs[models.AccountTypeOAuth].MarkRateLimited(context.Background(), "oa1", &resetAt))

		w := postJSON(f.handler.HandleSelectAccount, "/api/v1/scheduler/select",
			`{"api_key_id":"k1","oauth_binding":"oa1"}`)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)

		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		details := response["details"].(map[string]interface{})
		assert.Equal(t, "oa1", details["account_id"])
		assert.NotEmpty(t, details["reset_at"])
	})

	t.Run("unavailable forced binding maps to 409", func(t *testing.T) {
		f := newSchedulerFixture(t)
		f.addShared("other", models.AccountTypeOAuth)

		w := postJSON(f.handler.HandleSelectAccount, "/api/v1/scheduler/select",
			`{"api_key_id":"k1","forced_account_id":"ghost","forced_account_type":"oauth"}`)

		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestHandleSelectGroup(t *testing.T) {
	t.Run("selects a group member", func(t *testing.T) {
		f := newSchedulerFixture(t)
		f.addShared("c1", models.AccountTypeConsole)
		f.groups.Put(&models.AccountGroup{
			ID:       "g1",
			Name:     "premium",
			Platform: string(models.AccountTypeConsole),
			Members:  []string{"c1"},
		})

		w := postJSON(f.handler.HandleSelectGroup, "/api/v1/scheduler/select-group",
			`{"group_id":"g1"}`)

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		data := response["data"].(map[string]interface{})
		assert.Equal(t, "c1", data["account_id"])
	})

	t.Run("missing group id is a validation error", func(t *testing.T) {
		f := newSchedulerFixture(t)

		w := postJSON(f.handler.HandleSelectGroup, "/api/v1/scheduler/select-group", `{}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown allowed type is a bad request", func(t *testing.T) {
		f := newSchedulerFixture(t)

		w := postJSON(f.handler.HandleSelectGroup, "/api/v1/scheduler/select-group",
			`{"group_id":"g1","allowed_types":["gateway"]}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown group maps to 404", func(t *testing.T) {
		f := newSchedulerFixture(t)

		w := postJSON(f.handler.HandleSelectGroup, "/api/v1/scheduler/select-group",
			`{"group_id":"ghost"}`)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("empty group maps to 409", func(t *testing.T) {
		f := newSchedulerFixture(t)
		f.groups.Put(&models.AccountGroup{
			ID:       "g1",
			Name:     "empty",
			Platform: string(models.AccountTypeConsole),
		})

		w := postJSON(f.handler.HandleSelectGroup, "/api/v1/scheduler/select-group",
			`{"group_id":"g1"}`)

		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestHandleClearSession(t *testing.T) {
	f := newSchedulerFixture(t)

	router := chi.NewRouter()
	router.Delete("/api/v1/sessions/{fingerprint}", f.handler.HandleClearSession)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/fp-123", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}
