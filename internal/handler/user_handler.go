package handler

import (
	"net/http"
	"strconv"

	"github.com/Baaaki/heartscan/internal/middleware"
	"github.com/Baaaki/heartscan/internal/models"
	"github.com/Baaaki/heartscan/internal/repository"
	"github.com/Baaaki/heartscan/internal/service"
	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	userService *service.UserService
}

func NewUserHandler(userService *service.UserService) *UserHandler {
	return &UserHandler{
		userService: userService,
	}
}

// UpdateUserRequest is a partial update; omitted fields stay as they are.
type UpdateUserRequest struct {
	Email     *string      `json:"email" binding:"omitempty,email"`
	Password  *string      `json:"password" binding:"omitempty,min=8,max=128"`
	Role      *models.Role `json:"role" binding:"omitempty,role"`
	IsBlocked *bool        `json:"is_blocked"`
}

type UserResponse struct {
	ID        string      `json:"id"`
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
	IsBlocked bool        `json:"is_blocked"`
	CreatedAt string      `json:"created_at,omitempty"`
}

func toUserResponse(user *models.User) UserResponse {
	return UserResponse{
		ID:        user.ID.String(),
		Email:     user.Email,
		Role:      user.Role,
		IsBlocked: user.IsBlocked,
		CreatedAt: user.CreatedAt.UTC().Format(timeLayout),
	}
}

// Me returns the authenticated user.
// GET /users/me
func (h *UserHandler) Me(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

// List returns up to 100 users, optionally filtered by role and block flag.
// GET /users
func (h *UserHandler) List(c *gin.Context) {
	filter := repository.UserFilter{Role: c.Query("role")}
	if raw := c.Query("blocked"); raw != "" {
		blocked, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "blocked must be true or false")
			return
		}
		filter.Blocked = &blocked
	}

	users, err := h.userService.ListUsers(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]UserResponse, 0, len(users))
	for _, user := range users {
		out = append(out, toUserResponse(user))
	}
	c.JSON(http.StatusOK, out)
}

// Get returns one user to themselves or to staff.
// GET /users/:id
func (h *UserHandler) Get(c *gin.Context) {
	actor, _ := middleware.CurrentUser(c)

	user, err := h.userService.GetUser(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

// Update applies a partial update.
// PATCH /users/:id
func (h *UserHandler) Update(c *gin.Context) {
	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	actor, _ := middleware.CurrentUser(c)
	user, err := h.userService.UpdateUser(c.Request.Context(), actor, c.Param("id"), service.UserUpdate{
		Email:     req.Email,
		Password:  req.Password,
		Role:      req.Role,
		IsBlocked: req.IsBlocked,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

// Block blocks or unblocks a user.
// PATCH /users/:id/block?block=true|false
func (h *UserHandler) Block(c *gin.Context) {
	block, err := strconv.ParseBool(c.Query("block"))
	if err != nil {
		badRequest(c, "block query parameter must be true or false")
		return
	}

	actor, _ := middleware.CurrentUser(c)
	if err := h.userService.SetBlocked(c.Request.Context(), actor, c.Param("id"), block); err != nil {
		respondError(c, err)
		return
	}

	action := "unblocked"
	if block {
		action = "blocked"
	}
	c.JSON(http.StatusOK, gin.H{"message": "User " + action + " successfully"})
}

// Delete removes a user.
// DELETE /users/:id
func (h *UserHandler) Delete(c *gin.Context) {
	actor, _ := middleware.CurrentUser(c)
	if err := h.userService.DeleteUser(c.Request.Context(), actor, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User deleted successfully"})
}
