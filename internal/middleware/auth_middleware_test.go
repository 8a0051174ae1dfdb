package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Baaaki/heartscan/internal/middleware"
	"github.com/Baaaki/heartscan/internal/models"
	"github.com/Baaaki/heartscan/internal/repository"
	"github.com/Baaaki/heartscan/internal/service"
	"github.com/Baaaki/heartscan/internal/testutil"
	"github.com/Baaaki/heartscan/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const testSecret = "middleware-test-secret"

type AuthMiddlewareTestSuite struct {
	suite.Suite
	testDB *testutil.TestDatabase
	router *gin.Engine
}

func (s *AuthMiddlewareTestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
	s.testDB = testutil.SetupTestDatabase(s.T())

	users := service.NewUserService(repository.NewUserRepository(s.testDB.DB))

	s.router = gin.New()
	authed := s.router.Group("/", middleware.AuthMiddleware(testSecret, users))
	authed.GET("/me", func(c *gin.Context) {
		user, ok := middleware.CurrentUser(c)
		require.True(s.T(), ok)
		c.JSON(http.StatusOK, gin.H{"id": user.ID, "role": user.Role})
	})
	authed.GET("/admin", middleware.AdminOnly(), func(c *gin.Context) { c.Status(http.StatusOK) })
	authed.GET("/moderator", middleware.ModeratorOnly(), func(c *gin.Context) { c.Status(http.StatusOK) })
	authed.GET("/staff", middleware.RequireRoles(models.RoleAdmin, models.RoleModerator), func(c *gin.Context) { c.Status(http.StatusOK) })
}

func (s *AuthMiddlewareTestSuite) TearDownSuite() {
	s.testDB.Teardown(s.T())
}

func (s *AuthMiddlewareTestSuite) SetupTest() {
	testutil.CleanDatabase(s.T(), s.testDB.DB)
}

func (s *AuthMiddlewareTestSuite) token(user *models.User) string {
	token, err := utils.GenerateToken(user.ID, user.Role, testSecret, time.Hour)
	require.NoError(s.T(), err)
	return token
}

func (s *AuthMiddlewareTestSuite) get(path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *AuthMiddlewareTestSuite) TestRejectsBadCredentials() {
	user := testutil.DefaultTestUser(s.T(), s.testDB.DB)
	expired, err := utils.GenerateToken(user.ID, user.Role, testSecret, -time.Minute)
	require.NoError(s.T(), err)
	foreign, err := utils.GenerateToken(user.ID, user.Role, "other-secret", time.Hour)
	require.NoError(s.T(), err)

	testCases := []struct {
		name   string
		header string
		want   string
	}{
		{"missing header", "", "Authorization header required"},
		{"wrong scheme", "Basic abc", "Invalid authorization format"},
		{"empty bearer", "Bearer ", "Invalid authorization format"},
		{"garbage token", "Bearer not.a.token", "Invalid or expired token"},
		{"wrong secret", "Bearer " + foreign, "Invalid or expired token"},
		{"expired", "Bearer " + expired, "Token has expired"},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			w := s.get("/me", tc.header)
			assert.Equal(s.T(), http.StatusUnauthorized, w.Code)
			assert.Contains(s.T(), w.Body.String(), tc.want)
		})
	}
}

func (s *AuthMiddlewareTestSuite) TestValidTokenAttachesUser() {
	user := testutil.DefaultTestUser(s.T(), s.testDB.DB)

	w := s.get("/me", "Bearer "+s.token(user))
	assert.Equal(s.T(), http.StatusOK, w.Code)
	assert.Contains(s.T(), w.Body.String(), user.ID.String())
}

func (s *AuthMiddlewareTestSuite) TestDeletedUserIsUnauthorized() {
	ghost := &models.User{ID: uuid.New(), Role: models.RoleAdmin}

	w := s.get("/me", "Bearer "+s.token(ghost))
	assert.Equal(s.T(), http.StatusUnauthorized, w.Code)
	assert.Contains(s.T(), w.Body.String(), "user no longer exists")
}

func (s *AuthMiddlewareTestSuite) TestBlockedUserIsForbidden() {
	user := testutil.DefaultTestUser(s.T(), s.testDB.DB)
	require.NoError(s.T(), s.testDB.DB.Model(user).Update("is_blocked", true).Error)

	w := s.get("/me", "Bearer "+s.token(user))
	assert.Equal(s.T(), http.StatusForbidden, w.Code)
}

func (s *AuthMiddlewareTestSuite) TestStoredRoleWinsOverTokenRole() {
	user := testutil.DefaultTestUser(s.T(), s.testDB.DB)
	forged := *user
	forged.Role = models.RoleAdmin

	w := s.get("/admin", "Bearer "+s.token(&forged))
	assert.Equal(s.T(), http.StatusForbidden, w.Code)
}

func (s *AuthMiddlewareTestSuite) TestRolesAreNotHierarchical() {
	admin := testutil.DefaultAdminUser(s.T(), s.testDB.DB)
	moderator := testutil.DefaultModeratorUser(s.T(), s.testDB.DB)
	user := testutil.DefaultTestUser(s.T(), s.testDB.DB)

	testCases := []struct {
		name string
		user *models.User
		path string
		want int
	}{
		{"admin on admin route", admin, "/admin", http.StatusOK},
		{"admin on moderator route", admin, "/moderator", http.StatusForbidden},
		{"moderator on moderator route", moderator, "/moderator", http.StatusOK},
		{"moderator on admin route", moderator, "/admin", http.StatusForbidden},
		{"admin on staff route", admin, "/staff", http.StatusOK},
		{"moderator on staff route", moderator, "/staff", http.StatusOK},
		{"user on staff route", user, "/staff", http.StatusForbidden},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			w := s.get(tc.path, "Bearer "+s.token(tc.user))
			assert.Equal(s.T(), tc.want, w.Code)
		})
	}
}

func TestAuthMiddlewareTestSuite(t *testing.T) {
	suite.Run(t, new(AuthMiddlewareTestSuite))
}

func TestRequireRoles_WithoutAuthentication(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/admin", middleware.AdminOnly(), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSecurityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.SecurityHeadersMiddleware(), middleware.HSTSMiddleware(true))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)

	testCases := []struct {
		name    string
		origins []string
		origin  string
		want    string
	}{
		{"wildcard", []string{"*"}, "http://anything.test", "*"},
		{"listed origin", []string{"http://app.test"}, "http://app.test", "http://app.test"},
		{"unlisted origin", []string{"http://app.test"}, "http://evil.test", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			router := gin.New()
			router.Use(middleware.CORS(tc.origins))
			router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Origin", tc.origin)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tc.want, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}
