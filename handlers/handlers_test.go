package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"denuncia-service/database"
	"denuncia-service/feed"
	"denuncia-service/listener"
	"denuncia-service/middleware"
	"denuncia-service/models"
	"denuncia-service/notifications"
	ws "denuncia-service/websocket"
)

const testSecret = "test-secret"

type testEnv struct {
	router *gin.Engine
	mock   sqlmock.Sqlmock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := database.NewFeedStore(db)
	h := NewHandlers(
		database.NewDerivationService(db),
		store,
		listener.NewChangeListener(store, time.Minute),
		ws.NewHub(),
		notifications.NewRouter(),
		feed.DefaultOptions(),
	)

	validator := middleware.NewTokenValidator(testSecret)

	router := gin.New()
	api := router.Group("/api/v3")
	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(validator))
	{
		protected.GET("/derivaciones", h.ListDerivations)
		protected.POST("/derivaciones/atender", h.MarkInProgress)
		protected.POST("/derivaciones/cerrar", h.CloseWithReport)
		protected.POST("/notifications/route", h.RouteNotification)
	}
	api.GET("/feed", h.GetFeed)
	api.GET("/health", h.HealthCheck)

	return &testEnv{router: router, mock: mock}
}

func bearerToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func inspectorColumns() []string {
	return []string{"id", "user_id", "nombre", "activo"}
}

func derivacionColumns() []string {
	return []string{"id", "denuncia_id", "inspector_id", "fecha_asignacion", "fecha_atencion", "fecha_completada"}
}

func TestListDerivationsRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/api/v3/derivaciones", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestListDerivationsNonInspectorForbidden(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery("SELECT id, user_id, nombre, activo FROM inspectores").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(inspectorColumns()))

	rr := env.do(t, "GET", "/api/v3/derivaciones", bearerToken(t, "user-1"), nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, database.ErrInspectorNotFound, resp["type"])
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestMarkInProgressAdvancesCase(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()

	env.mock.ExpectQuery("SELECT id, user_id, nombre, activo FROM inspectores").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(inspectorColumns()).AddRow("insp-1", "user-1", "Ana", true))
	env.mock.ExpectQuery("SELECT id, denuncia_id, inspector_id").
		WithArgs("der-1", "den-1").
		WillReturnRows(sqlmock.NewRows(derivacionColumns()).AddRow("der-1", "den-1", "insp-1", now, nil, nil))
	env.mock.ExpectExec("UPDATE derivaciones SET fecha_atencion").
		WithArgs("der-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectQuery("SELECT estado, fecha_atencion FROM denuncias").
		WithArgs("den-1").
		WillReturnRows(sqlmock.NewRows([]string{"estado", "fecha_atencion"}).AddRow(models.EstadoPendiente, nil))
	env.mock.ExpectExec("UPDATE denuncias").
		WithArgs(models.EstadoEnProceso, "den-1", models.EstadoPendiente).
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectExec("INSERT INTO denuncia_changes").
		WithArgs("den-1", models.EventUpdate).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rr := env.do(t, "POST", "/api/v3/derivaciones/atender", bearerToken(t, "user-1"), models.MarkInProgressRequest{
		DerivacionID: "der-1",
		DenunciaID:   "den-1",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, true, resp["case_advanced"])
	assert.Equal(t, false, resp["already_started"])
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestCloseWithReportNotOwnerConflict(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()

	env.mock.ExpectQuery("SELECT id, user_id, nombre, activo FROM inspectores").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(inspectorColumns()).AddRow("insp-1", "user-1", "Ana", true))
	env.mock.ExpectQuery("SELECT id, denuncia_id, inspector_id").
		WithArgs("der-1", "den-1").
		WillReturnRows(sqlmock.NewRows(derivacionColumns()).AddRow("der-1", "den-1", "insp-other", now, nil, nil))

	rr := env.do(t, "POST", "/api/v3/derivaciones/cerrar", bearerToken(t, "user-1"), models.CloseRequest{
		DerivacionID: "der-1",
		DenunciaID:   "den-1",
		Reporte:      "resuelto en terreno",
	})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, database.ErrNotOwner, resp["type"])
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestCloseWithReportMissingBody(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/api/v3/derivaciones/cerrar", bearerToken(t, "user-1"), map[string]string{
		"derivacion_id": "der-1",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetFeedRequiresCoordinates(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/api/v3/feed?latitude=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["location_error"])
}

func TestGetFeedReturnsNearbyItems(t *testing.T) {
	env := newTestEnv(t)

	cols := []string{"id", "folio", "titulo", "descripcion", "direccion",
		"latitude", "longitude", "estado", "categoria_id", "fecha_creacion"}
	rows := sqlmock.NewRows(cols).
		AddRow("d-1", "F-001", "basural", "", "", 47.3206, 8.52144, 1, 2, time.Now().Add(-time.Hour))

	env.mock.ExpectQuery("FROM denuncias").WillReturnRows(rows)

	rr := env.do(t, "GET", "/api/v3/feed?latitude=47.3205&longitude=8.52144", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		OK    bool              `json:"ok"`
		Items []models.FeedItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "d-1", resp.Items[0].ID)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRouteNotificationDropsMismatchedRecipient(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery("SELECT id FROM inspectores").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rr := env.do(t, "POST", "/api/v3/notifications/route", bearerToken(t, "user-1"), models.NotificationPayload{
		Type:               models.NotificationStatusChange,
		ReportID:           "d-1",
		DestinatarioUserID: "someone-else",
	})
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRouteNotificationReturnsTarget(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery("SELECT id FROM inspectores").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rr := env.do(t, "POST", "/api/v3/notifications/route", bearerToken(t, "user-1"), models.NotificationPayload{
		Type:               models.NotificationStatusChange,
		ReportID:           "d-1",
		DestinatarioUserID: "user-1",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		OK     bool                `json:"ok"`
		Target *models.RouteTarget `json:"target"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	require.NotNil(t, resp.Target)
	assert.Equal(t, "d-1", resp.Target.ReportID)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/api/v3/health", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp models.HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "denuncia-service", resp.Service)
}
