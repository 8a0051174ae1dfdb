package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/Baaaki/heartscan/internal/broker"
	"github.com/Baaaki/heartscan/internal/config"
	"github.com/Baaaki/heartscan/internal/handler"
	"github.com/Baaaki/heartscan/internal/middleware"
	"github.com/Baaaki/heartscan/internal/models"
	"github.com/Baaaki/heartscan/internal/repository"
	"github.com/Baaaki/heartscan/internal/server"
	"github.com/Baaaki/heartscan/internal/service"
	"github.com/Baaaki/heartscan/internal/storage"
	"github.com/Baaaki/heartscan/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const testSecret = "router-test-secret"

type APITestSuite struct {
	suite.Suite
	testDB *testutil.TestDatabase
	redis  *testutil.TestRedis
	store  *storage.LocalStore
	feed   *handler.WebSocketHandler
	deps   server.Deps
	router *gin.Engine
	cancel context.CancelFunc

	userToken      string
	otherToken     string
	adminToken     string
	moderatorToken string
	user           *models.User
	other          *models.User
}

func (s *APITestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
	s.testDB = testutil.SetupTestDatabase(s.T())
}

func (s *APITestSuite) TearDownSuite() {
	s.testDB.Teardown(s.T())
}

func (s *APITestSuite) SetupTest() {
	testutil.CleanDatabase(s.T(), s.testDB.DB)

	store, err := storage.NewLocalStore(s.T().TempDir())
	require.NoError(s.T(), err)
	s.store = store
	s.redis = testutil.SetupTestRedis(s.T())

	cfg := &config.Config{
		JWTSecret:         testSecret,
		JWTExpiry:         time.Hour,
		MaxUploadSizeMB:   1,
		MaxImageDimension: 8192,
		CORSOrigins:       []string{"*"},
		StorageBackend:    config.StorageLocal,
	}

	userRepo := repository.NewUserRepository(s.testDB.DB)
	events := broker.NewRedisEventBroker(s.redis.Client)
	s.feed = handler.NewWebSocketHandler(events, cfg.CORSOrigins)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	require.NoError(s.T(), s.feed.Start(ctx))

	limiterCfg := middleware.RateLimiterConfig{MaxRequests: 1000, Window: time.Minute, BlockTime: time.Minute}
	s.deps = server.Deps{
		Config:         cfg,
		AuthService:    service.NewAuthService(userRepo, cfg.JWTSecret, cfg.JWTExpiry),
		UserService:    service.NewUserService(userRepo),
		MLModelService: service.NewMLModelService(repository.NewMLModelRepository(s.testDB.DB)),
		PredictionService: service.NewPredictionService(
			repository.NewPredictionRepository(s.testDB.DB),
			userRepo,
			store,
			testutil.TestClassifier(s.T()),
			events,
			service.UploadLimits{MaxBytes: cfg.MaxUploadBytes(), MaxDimension: cfg.MaxImageDimension},
		),
		Feed:          s.feed,
		AuthLimiter:   middleware.NewRateLimiter(s.redis.Client, limiterCfg, "auth"),
		UploadLimiter: middleware.NewRateLimiter(s.redis.Client, limiterCfg, "upload"),
	}
	s.router = server.NewRouter(s.deps)

	s.user = testutil.DefaultTestUser(s.T(), s.testDB.DB)
	s.other = testutil.CreateTestUser(s.T(), s.testDB.DB, "other@example.com", "Other123456", models.RoleUser)
	testutil.DefaultAdminUser(s.T(), s.testDB.DB)
	testutil.DefaultModeratorUser(s.T(), s.testDB.DB)

	s.userToken = s.login("test@example.com", "Test123456")
	s.otherToken = s.login("other@example.com", "Other123456")
	s.adminToken = s.login("admin@example.com", "Admin123456")
	s.moderatorToken = s.login("moderator@example.com", "Moderator123456")
}

func (s *APITestSuite) TearDownTest() {
	s.cancel()
}

func (s *APITestSuite) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.T(), err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *APITestSuite) upload(token, filename, contentType string, content []byte) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(s.T(), err)
	_, err = part.Write(content)
	require.NoError(s.T(), err)
	require.NoError(s.T(), mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/predictions/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *APITestSuite) login(email, password string) string {
	w := s.do(http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(s.T(), http.StatusOK, w.Code, w.Body.String())

	var resp handler.TokenResponse
	require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(s.T(), "bearer", resp.TokenType)
	return resp.AccessToken
}

func decode[T any](s *APITestSuite, w *httptest.ResponseRecorder) T {
	var out T
	require.NoError(s.T(), json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (s *APITestSuite) TestRootAndHealth() {
	assert.Equal(s.T(), http.StatusOK, s.do(http.MethodGet, "/", "", nil).Code)
	w := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(s.T(), http.StatusOK, w.Code)
	assert.Contains(s.T(), w.Body.String(), "ok")
}

func (s *APITestSuite) TestRegisterAndLogin() {
	w := s.do(http.MethodPost, "/auth/register", "", map[string]string{"email": "New@Example.com", "password": "Secret1234"})
	require.Equal(s.T(), http.StatusCreated, w.Code)
	created := decode[map[string]string](s, w)
	assert.Equal(s.T(), "new@example.com", created["email"])
	assert.NotEmpty(s.T(), created["id"])

	w = s.do(http.MethodPost, "/auth/register", "", map[string]string{"email": "new@example.com", "password": "Secret1234"})
	assert.Equal(s.T(), http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/auth/register", "", map[string]string{"email": "bad", "password": "Secret1234"})
	assert.Equal(s.T(), http.StatusBadRequest, w.Code)

	token := s.login("new@example.com", "Secret1234")
	w = s.do(http.MethodGet, "/users/me", token, nil)
	require.Equal(s.T(), http.StatusOK, w.Code)
	me := decode[handler.UserResponse](s, w)
	assert.Equal(s.T(), models.RoleUser, me.Role)
	assert.False(s.T(), me.IsBlocked)
}

func (s *APITestSuite) TestLoginFailuresLookIdentical() {
	unknown := s.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "nobody@example.com", "password": "Whatever123"})
	wrong := s.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "test@example.com", "password": "Wrong123456"})

	assert.Equal(s.T(), http.StatusUnauthorized, unknown.Code)
	assert.Equal(s.T(), http.StatusUnauthorized, wrong.Code)
	assert.Equal(s.T(), unknown.Body.String(), wrong.Body.String())
}

func (s *APITestSuite) TestUnauthenticatedRequests() {
	assert.Equal(s.T(), http.StatusUnauthorized, s.do(http.MethodGet, "/users/me", "", nil).Code)
	assert.Equal(s.T(), http.StatusUnauthorized, s.do(http.MethodGet, "/predictions/labels", "garbage", nil).Code)
	assert.Equal(s.T(), http.StatusUnauthorized, s.upload("", "ecg.png", "image/png", testutil.PNGFixture(s.T(), color.White)).Code)
}

func (s *APITestSuite) TestRolesAreNotHierarchical() {
	testCases := []struct {
		name  string
		token func() string
		path  string
		want  int
	}{
		{"admin lists users", func() string { return s.adminToken }, "/users", http.StatusOK},
		{"moderator cannot list users", func() string { return s.moderatorToken }, "/users", http.StatusForbidden},
		{"admin cannot open review queue", func() string { return s.adminToken }, "/predictions/review", http.StatusForbidden},
		{"moderator opens review queue", func() string { return s.moderatorToken }, "/predictions/review", http.StatusOK},
		{"moderator cannot list models", func() string { return s.moderatorToken }, "/mlmodels", http.StatusForbidden},
		{"user cannot list predictions", func() string { return s.userToken }, "/predictions", http.StatusForbidden},
		{"user cannot list images", func() string { return s.userToken }, "/predictions/images", http.StatusForbidden},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			assert.Equal(s.T(), tc.want, s.do(http.MethodGet, tc.path, tc.token(), nil).Code)
		})
	}
}

func (s *APITestSuite) TestUploadPipeline() {
	w := s.upload(s.userToken, "ecg.png", "image/png", testutil.PNGFixture(s.T(), color.RGBA{B: 255, A: 255}))
	require.Equal(s.T(), http.StatusOK, w.Code, w.Body.String())

	resp := decode[handler.UploadResponse](s, w)
	assert.NotEmpty(s.T(), resp.PredictionID)
	assert.Equal(s.T(), "Myocardial Infarction", resp.Result)
	assert.Greater(s.T(), resp.Confidence, 0.5)
	assert.LessOrEqual(s.T(), resp.Confidence, 1.0)

	w = s.do(http.MethodGet, "/predictions/"+s.user.ID.String(), s.userToken, nil)
	require.Equal(s.T(), http.StatusOK, w.Code)
	mine := decode[[]models.Prediction](s, w)
	require.Len(s.T(), mine, 1)
	assert.Equal(s.T(), resp.PredictionID, mine[0].ID.String())
	assert.Nil(s.T(), mine[0].Notes)

	// Another user cannot see it, staff can.
	assert.Equal(s.T(), http.StatusForbidden, s.do(http.MethodGet, "/predictions/"+s.user.ID.String(), s.otherToken, nil).Code)
	assert.Equal(s.T(), http.StatusOK, s.do(http.MethodGet, "/predictions/"+s.user.ID.String(), s.moderatorToken, nil).Code)

	w = s.do(http.MethodGet, "/predictions?label=Myocardial%20Infarction", s.adminToken, nil)
	require.Equal(s.T(), http.StatusOK, w.Code)
	assert.Len(s.T(), decode[[]models.Prediction](s, w), 1)
}

func (s *APITestSuite) TestUploadRejections() {
	w := s.upload(s.userToken, "report.pdf", "application/pdf", []byte("%PDF-1.4 not an image"))
	assert.Equal(s.T(), http.StatusBadRequest, w.Code)
	assert.Contains(s.T(), w.Body.String(), "JPEG/PNG")

	w = s.upload(s.userToken, "big.png", "image/png", make([]byte, 2<<20))
	assert.Equal(s.T(), http.StatusBadRequest, w.Code)

	// Small file, huge declared dimensions.
	w = s.upload(s.userToken, "huge.png", "image/png", testutil.PNGHeaderFixture(12000, 12000))
	assert.Equal(s.T(), http.StatusBadRequest, w.Code)
	assert.Contains(s.T(), w.Body.String(), "8192x8192")

	objects, err := s.store.List(context.Background())
	require.NoError(s.T(), err)
	assert.Empty(s.T(), objects, "rejected uploads leave no files")

	var count int64
	require.NoError(s.T(), s.testDB.DB.Model(&models.Prediction{}).Count(&count).Error)
	assert.Zero(s.T(), count)
}

func (s *APITestSuite) TestNotesOwnerOnly() {
	w := s.upload(s.userToken, "ecg.jpg", "image/jpeg", testutil.JPEGFixture(s.T(), color.RGBA{R: 250, A: 255}))
	require.Equal(s.T(), http.StatusOK, w.Code)
	id := decode[handler.UploadResponse](s, w).PredictionID

	note := map[string]string{"notes": "follow up in two weeks"}
	assert.Equal(s.T(), http.StatusForbidden, s.do(http.MethodPatch, "/predictions/"+id, s.otherToken, note).Code)
	assert.Equal(s.T(), http.StatusForbidden, s.do(http.MethodPatch, "/predictions/"+id, s.adminToken, note).Code)

	w = s.do(http.MethodPatch, "/predictions/"+id, s.userToken, note)
	require.Equal(s.T(), http.StatusOK, w.Code)
	updated := decode[models.Prediction](s, w)
	require.NotNil(s.T(), updated.Notes)
	assert.Equal(s.T(), "follow up in two weeks", *updated.Notes)

	// A body without the field is rejected and leaves the note alone.
	w = s.do(http.MethodPatch, "/predictions/"+id, s.userToken, map[string]string{})
	assert.Equal(s.T(), http.StatusBadRequest, w.Code)
	assert.Contains(s.T(), w.Body.String(), "notes is required")
	assert.Equal(s.T(), http.StatusBadRequest, s.do(http.MethodPatch, "/predictions/"+id, s.userToken, map[string]int{"notes": 5}).Code)

	var stored models.Prediction
	require.NoError(s.T(), s.testDB.DB.First(&stored, "id = ?", id).Error)
	require.NotNil(s.T(), stored.Notes)
	assert.Equal(s.T(), "follow up in two weeks", *stored.Notes)

	// An explicit null clears it.
	w = s.do(http.MethodPatch, "/predictions/"+id, s.userToken, map[string]interface{}{"notes": nil})
	require.Equal(s.T(), http.StatusOK, w.Code)
	assert.Nil(s.T(), decode[models.Prediction](s, w).Notes)

	assert.Equal(s.T(), http.StatusBadRequest, s.do(http.MethodPatch, "/predictions/not-a-uuid", s.userToken, note).Code)
	assert.Equal(s.T(), http.StatusNotFound, s.do(http.MethodPatch, "/predictions/"+uuid.NewString(), s.userToken, note).Code)
}

func (s *APITestSuite) TestImages() {
	png := testutil.PNGFixture(s.T(), color.RGBA{G: 255, A: 255})
	require.Equal(s.T(), http.StatusOK, s.upload(s.userToken, "ecg.png", "image/png", png).Code)

	w := s.do(http.MethodGet, "/predictions/images", s.adminToken, nil)
	require.Equal(s.T(), http.StatusOK, w.Code)
	files := decode[map[string][]string](s, w)["files"]
	require.Len(s.T(), files, 1)
	key := files[0]
	assert.True(s.T(), strings.HasSuffix(key, ".png"))

	w = s.do(http.MethodGet, "/predictions/image/"+key, s.userToken, nil)
	require.Equal(s.T(), http.StatusOK, w.Code)
	assert.Equal(s.T(), "image/png", w.Header().Get("Content-Type"))
	assert.Equal(s.T(), png, w.Body.Bytes())

	assert.Equal(s.T(), http.StatusForbidden, s.do(http.MethodDelete, "/predictions/image/"+key, s.userToken, nil).Code)
	assert.Equal(s.T(), http.StatusOK, s.do(http.MethodDelete, "/predictions/image/"+key, s.adminToken, nil).Code)
	assert.Equal(s.T(), http.StatusNotFound, s.do(http.MethodGet, "/predictions/image/"+key, s.userToken, nil).Code)
	assert.Equal(s.T(), http.StatusNotFound, s.do(http.MethodDelete, "/predictions/image/"+key, s.adminToken, nil).Code)
}

func (s *APITestSuite) TestImageKeyIgnoresClientExtension() {
	png := testutil.PNGFixture(s.T(), color.White)
	require.Equal(s.T(), http.StatusOK, s.upload(s.userToken, "scan.bin", "image/png", png).Code)

	var stored models.Prediction
	require.NoError(s.T(), s.testDB.DB.First(&stored, "user_id = ?", s.user.ID).Error)
	assert.Equal(s.T(), "scan.bin", stored.OriginalFilename)
	assert.True(s.T(), strings.HasSuffix(stored.ImageKey, ".png"), stored.ImageKey)

	w := s.do(http.MethodGet, "/predictions/image/"+stored.ImageKey, s.userToken, nil)
	require.Equal(s.T(), http.StatusOK, w.Code)
	assert.Equal(s.T(), "image/png", w.Header().Get("Content-Type"))
}

func (s *APITestSuite) TestUserManagement() {
	otherID := s.other.ID.String()

	assert.Equal(s.T(), http.StatusForbidden, s.do(http.MethodGet, "/users/"+otherID, s.userToken, nil).Code)
	assert.Equal(s.T(), http.StatusOK, s.do(http.MethodGet, "/users/"+otherID, s.moderatorToken, nil).Code)
	assert.Equal(s.T(), http.StatusBadRequest, s.do(http.MethodGet, "/users/xyz", s.adminToken, nil).Code)

	// Self update of email, role escalation refused.
	w := s.do(http.MethodPatch, "/users/"+s.user.ID.String(), s.userToken, map[string]string{"email": "renamed@example.com"})
	require.Equal(s.T(), http.StatusOK, w.Code)
	assert.Equal(s.T(), "renamed@example.com", decode[handler.UserResponse](s, w).Email)
	assert.Equal(s.T(), http.StatusForbidden, s.do(http.MethodPatch, "/users/"+s.user.ID.String(), s.userToken, map[string]string{"role": "admin"}).Code)
	assert.Equal(s.T(), http.StatusBadRequest, s.do(http.MethodPatch, "/users/"+s.user.ID.String(), s.adminToken, map[string]string{"role": "superuser"}).Code)
	assert.Equal(s.T(), http.StatusConflict, s.do(http.MethodPatch, "/users/"+otherID, s.otherToken, map[string]string{"email": "admin@example.com"}).Code)

	// Moderator blocks, blocked user is locked out.
	assert.Equal(s.T(), http.StatusForbidden, s.do(http.MethodPatch, "/users/"+otherID+"/block?block=true", s.userToken, nil).Code)
	assert.Equal(s.T(), http.StatusBadRequest, s.do(http.MethodPatch, "/users/"+otherID+"/block?block=maybe", s.moderatorToken, nil).Code)
	assert.Equal(s.T(), http.StatusOK, s.do(http.MethodPatch, "/users/"+otherID+"/block?block=true", s.moderatorToken, nil).Code)
	assert.Equal(s.T(), http.StatusForbidden, s.do(http.MethodGet, "/users/me", s.otherToken, nil).Code)
	w = s.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "other@example.com", "password": "Other123456"})
	assert.Equal(s.T(), http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/users?blocked=true", s.adminToken, nil)
	require.Equal(s.T(), http.StatusOK, w.Code)
	blocked := decode[[]handler.UserResponse](s, w)
	require.Len(s.T(), blocked, 1)
	assert.Equal(s.T(), otherID, blocked[0].ID)

	// Deletion is admin only; a deleted user's token stops working.
	assert.Equal(s.T(), http.StatusForbidden, s.do(http.MethodDelete, "/users/"+s.user.ID.String(), s.moderatorToken, nil).Code)
	assert.Equal(s.T(), http.StatusOK, s.do(http.MethodDelete, "/users/"+s.user.ID.String(), s.adminToken, nil).Code)
	assert.Equal(s.T(), http.StatusUnauthorized, s.do(http.MethodGet, "/users/me", s.userToken, nil).Code)
	assert.Equal(s.T(), http.StatusNotFound, s.do(http.MethodDelete, "/users/"+s.user.ID.String(), s.adminToken, nil).Code)
}

func (s *APITestSuite) TestMLModelLifecycle() {
	body := map[string]interface{}{
		"version":             "resnet50-v1",
		"model_url":           "s3://models/resnet50.json",
		"accuracy":            0.92,
		"parameters":          map[string]interface{}{"learning_rate": 0.001, "epochs": 50, "batch_size": 32},
		"performance_metrics": map[string]interface{}{"precision": 0.9, "recall": 0.91, "f1_score": 0.905},
		"status":              "active",
		"description":         "baseline",
	}

	w := s.do(http.MethodPost, "/mlmodels", s.adminToken, body)
	require.Equal(s.T(), http.StatusCreated, w.Code, w.Body.String())
	created := decode[map[string]interface{}](s, w)
	id := created["id"].(string)

	bad := map[string]interface{}{"version": "x", "model_url": "y", "status": "deployed"}
	assert.Equal(s.T(), http.StatusBadRequest, s.do(http.MethodPost, "/mlmodels", s.adminToken, bad).Code)

	w = s.do(http.MethodGet, "/mlmodels", s.adminToken, nil)
	require.Equal(s.T(), http.StatusOK, w.Code)
	summaries := decode[[]handler.MLModelSummary](s, w)
	require.Len(s.T(), summaries, 1)
	assert.Equal(s.T(), "resnet50-v1", summaries[0].Version)

	w = s.do(http.MethodGet, "/mlmodels/"+id, s.adminToken, nil)
	require.Equal(s.T(), http.StatusOK, w.Code)
	assert.Contains(s.T(), w.Body.String(), `"epochs":50`)

	body["version"] = "resnet50-v2"
	body["status"] = "archived"
	w = s.do(http.MethodPut, "/mlmodels/"+id, s.adminToken, body)
	require.Equal(s.T(), http.StatusOK, w.Code)
	assert.Contains(s.T(), w.Body.String(), "resnet50-v2")

	assert.Equal(s.T(), http.StatusBadRequest, s.do(http.MethodGet, "/mlmodels/nope", s.adminToken, nil).Code)
	assert.Equal(s.T(), http.StatusNotFound, s.do(http.MethodPut, "/mlmodels/"+uuid.NewString(), s.adminToken, body).Code)
	assert.Equal(s.T(), http.StatusOK, s.do(http.MethodDelete, "/mlmodels/"+id, s.adminToken, nil).Code)
	assert.Equal(s.T(), http.StatusNotFound, s.do(http.MethodGet, "/mlmodels/"+id, s.adminToken, nil).Code)
}

func (s *APITestSuite) TestReviewQueue() {
	require.Equal(s.T(), http.StatusOK, s.upload(s.userToken, "a.png", "image/png", testutil.PNGFixture(s.T(), color.RGBA{R: 255, A: 255})).Code)

	w := s.do(http.MethodGet, "/predictions/review?max_confidence=1", s.moderatorToken, nil)
	require.Equal(s.T(), http.StatusOK, w.Code)
	assert.Len(s.T(), decode[[]models.Prediction](s, w), 1)

	w = s.do(http.MethodGet, "/predictions/review?max_confidence=0.1", s.moderatorToken, nil)
	require.Equal(s.T(), http.StatusOK, w.Code)
	assert.Empty(s.T(), decode[[]models.Prediction](s, w))

	assert.Equal(s.T(), http.StatusBadRequest, s.do(http.MethodGet, "/predictions/review?max_confidence=abc", s.moderatorToken, nil).Code)
	assert.Equal(s.T(), http.StatusBadRequest, s.do(http.MethodGet, "/predictions/review?max_confidence=3", s.moderatorToken, nil).Code)
}

func (s *APITestSuite) TestLabels() {
	w := s.do(http.MethodGet, "/predictions/labels", s.userToken, nil)
	require.Equal(s.T(), http.StatusOK, w.Code)
	labels := decode[map[string][]string](s, w)["labels"]
	assert.Equal(s.T(), []string{"Abnormal Heartbeat", "History of MI", "Myocardial Infarction", "Normal"}, labels)
}

func (s *APITestSuite) TestIPBans() {
	w := s.do(http.MethodPost, "/admin/ip-bans", s.adminToken, map[string]string{"ip": "203.0.113.9", "reason": "abuse"})
	require.Equal(s.T(), http.StatusOK, w.Code, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(s.T(), http.StatusForbidden, rec.Code)

	assert.Equal(s.T(), http.StatusForbidden, s.do(http.MethodPost, "/admin/ip-bans", s.moderatorToken, map[string]string{"ip": "203.0.113.10", "reason": "x"}).Code)
	assert.Equal(s.T(), http.StatusBadRequest, s.do(http.MethodPost, "/admin/ip-bans", s.adminToken, map[string]string{"ip": "nope", "reason": "x"}).Code)
	assert.Equal(s.T(), http.StatusOK, s.do(http.MethodDelete, "/admin/ip-bans/203.0.113.9", s.adminToken, nil).Code)

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(s.T(), http.StatusOK, rec.Code)
}

func (s *APITestSuite) TestForwardedForNeedsTrustedProxy() {
	w := s.do(http.MethodPost, "/admin/ip-bans", s.adminToken, map[string]string{"ip": "203.0.113.50", "reason": "abuse"})
	require.Equal(s.T(), http.StatusOK, w.Code, w.Body.String())

	request := func(router http.Handler, remote, forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = remote
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	// Spoofing the header does not dodge the ban list...
	assert.Equal(s.T(), http.StatusForbidden, request(s.router, "203.0.113.50:4000", "198.51.100.7"))
	// ...nor frame another address.
	assert.Equal(s.T(), http.StatusOK, request(s.router, "198.51.100.7:4000", "203.0.113.50"))

	cfg := *s.deps.Config
	cfg.TrustedProxies = []string{"10.0.0.1"}
	deps := s.deps
	deps.Config = &cfg
	behindProxy := server.NewRouter(deps)

	assert.Equal(s.T(), http.StatusForbidden, request(behindProxy, "10.0.0.1:4000", "203.0.113.50"))
	assert.Equal(s.T(), http.StatusOK, request(behindProxy, "10.0.0.2:4000", "203.0.113.50"))
}

func (s *APITestSuite) TestPredictionFeed() {
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/predictions/ws"
	header := http.Header{"Authorization": []string{"Bearer " + s.userToken}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(s.T(), err)
	defer resp.Body.Close()
	defer conn.Close()

	require.Eventually(s.T(), func() bool { return s.feed.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Someone else's upload is not delivered; the caller's own is.
	require.Equal(s.T(), http.StatusOK, s.upload(s.otherToken, "x.png", "image/png", testutil.PNGFixture(s.T(), color.White)).Code)
	w := s.upload(s.userToken, "y.png", "image/png", testutil.PNGFixture(s.T(), color.RGBA{R: 255, A: 255}))
	require.Equal(s.T(), http.StatusOK, w.Code)
	mine := decode[handler.UploadResponse](s, w)

	require.NoError(s.T(), conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var event handler.WSEvent
	require.NoError(s.T(), conn.ReadJSON(&event))
	assert.Equal(s.T(), broker.EventPredictionCreated, event.Type)
	assert.Equal(s.T(), mine.PredictionID, event.PredictionID)
	assert.Equal(s.T(), "Abnormal Heartbeat", event.Result)
}

func (s *APITestSuite) TestPredictionFeed_QueryToken() {
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/predictions/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL+"?access_token="+s.userToken, nil)
	require.NoError(s.T(), err)
	defer resp.Body.Close()
	defer conn.Close()
	require.Eventually(s.T(), func() bool { return s.feed.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL+"?access_token=garbage", nil)
	require.Error(s.T(), err)
	require.NotNil(s.T(), resp)
	assert.Equal(s.T(), http.StatusUnauthorized, resp.StatusCode)

	// Outside a websocket upgrade the query parameter is not a credential.
	w := s.do(http.MethodGet, "/users/me?access_token="+s.userToken, "", nil)
	assert.Equal(s.T(), http.StatusUnauthorized, w.Code)
}

func TestAPITestSuite(t *testing.T) {
	suite.Run(t, new(APITestSuite))
}
