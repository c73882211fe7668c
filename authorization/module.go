package authorization

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	identityKey    = "user_id"
	defaultTimeout = time.Hour
)

var (
	ErrUsernameTaken = errors.New("authorization: username already exists")
	ErrWeakPassword  = errors.New("authorization: password must be at least 6 characters")
)

// Module wires together the JWT middleware and backing services.
type Module struct {
	db            *gorm.DB
	userStore     *UserStore
	jwtMiddleware *jwt.GinJWTMiddleware
	captcha       *CaptchaStore
}

// RegisterRoutes bootstraps the authentication endpoints under /auth using
// the shared database handle.
func RegisterRoutes(router *gin.Engine, db *gorm.DB) (*Module, error) {
	if db == nil {
		return nil, errors.New("authorization: database handle is required")
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		return nil, fmt.Errorf("authorization: migrate models: %w", err)
	}

	userStore := &UserStore{db: db}
	captchaStore := NewCaptchaStore(3 * time.Minute)
	authService := &AuthService{users: userStore}

	middleware, err := buildJWTMiddleware(authService)
	if err != nil {
		return nil, err
	}

	module := &Module{db: db, userStore: userStore, jwtMiddleware: middleware, captcha: captchaStore}

	authGroup := router.Group("/auth")
	authGroup.GET("/captcha", module.handleCaptcha)
	authGroup.POST("/register", module.handleRegister)
	authGroup.POST("/login", module.handleLogin)
	authGroup.POST("/refresh", middleware.RefreshHandler)

	secured := authGroup.Group("")
	secured.Use(middleware.MiddlewareFunc())
	secured.GET("/profile", module.handleProfile)

	return module, nil
}

func (m *Module) handleCaptcha(c *gin.Context) {
	challenge := m.captcha.Issue()
	expiresIn := int(challenge.TTL.Seconds())
	if expiresIn < 1 {
		expiresIn = 1
	}
	c.JSON(http.StatusOK, gin.H{
		"captcha_id": challenge.ID,
		"image":      challenge.ImageBase64,
		"expires_in": expiresIn,
		"expires_at": challenge.ExpiresAt.UTC(),
	})
}

func (m *Module) handleRegister(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	if m.captcha != nil && !m.captcha.Verify(req.CaptchaID, req.CaptchaAnswer) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid captcha"})
		return
	}

	service := &AuthService{users: m.userStore}
	user, err := service.Register(c.Request.Context(), req.Username, req.Password, req.DisplayName)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrMissingLoginValues):
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		case errors.Is(err, ErrWeakPassword):
			c.JSON(http.StatusBadRequest, gin.H{"error": ErrWeakPassword.Error()})
		case errors.Is(err, ErrUsernameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "username already exists"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": buildUserPayload(user)})
}

func (m *Module) handleLogin(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	var req LoginRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	if m.captcha != nil && !m.captcha.Verify(req.CaptchaID, req.CaptchaAnswer) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid captcha"})
		return
	}

	// The JWT middleware re-reads the body inside its Authenticator.
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	m.jwtMiddleware.LoginHandler(c)
}

func (m *Module) handleProfile(c *gin.Context) {
	claims := jwt.ExtractClaims(c)
	userID := extractUserID(claims)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	user, err := m.userStore.FindByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": buildUserPayload(user)})
}

func buildJWTMiddleware(service *AuthService) (*jwt.GinJWTMiddleware, error) {
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if secret == "" {
		return nil, errors.New("authorization: JWT_SECRET environment variable is required")
	}

	return jwt.New(&jwt.GinJWTMiddleware{
		Realm:       "mediagen",
		Key:         []byte(secret),
		Timeout:     defaultTimeout,
		MaxRefresh:  24 * time.Hour,
		IdentityKey: identityKey,
		PayloadFunc: func(data interface{}) jwt.MapClaims {
			if user, ok := data.(*AuthenticatedUser); ok {
				return jwt.MapClaims{
					identityKey: user.ID,
					"username":  user.Username,
				}
			}
			return jwt.MapClaims{}
		},
		IdentityHandler: func(c *gin.Context) interface{} {
			claims := jwt.ExtractClaims(c)
			username, _ := claims["username"].(string)
			return &AuthenticatedUser{ID: extractUserID(claims), Username: username}
		},
		Authenticator: func(c *gin.Context) (interface{}, error) {
			var req LoginRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				return nil, jwt.ErrMissingLoginValues
			}

			user, err := service.Authenticate(c.Request.Context(), req.Username, req.Password)
			if err != nil {
				return nil, err
			}

			c.Set("authenticated_user", user)
			return user, nil
		},
		Authorizator: func(data interface{}, c *gin.Context) bool {
			_, ok := data.(*AuthenticatedUser)
			return ok
		},
		Unauthorized: func(c *gin.Context, code int, message string) {
			c.JSON(code, gin.H{"error": message})
		},
		LoginResponse: func(c *gin.Context, code int, token string, expire time.Time) {
			response := gin.H{"token": token, "expire": expire}
			if value, ok := c.Get("authenticated_user"); ok {
				if authUser, ok := value.(*AuthenticatedUser); ok && authUser != nil {
					if user, err := service.users.FindByID(c.Request.Context(), authUser.ID); err == nil {
						response["user"] = buildUserPayload(user)
					}
				}
			}
			c.JSON(code, response)
		},
		RefreshResponse: func(c *gin.Context, code int, token string, expire time.Time) {
			response := gin.H{"token": token, "expire": expire}
			claims := jwt.ExtractClaims(c)
			if userID := extractUserID(claims); userID != 0 {
				if user, err := service.users.FindByID(c.Request.Context(), userID); err == nil {
					response["user"] = buildUserPayload(user)
				}
			}
			c.JSON(code, response)
		},
		TokenLookup:   "header: Authorization, cookie: jwt, cookie: token",
		TokenHeadName: "Bearer",
		TimeFunc:      time.Now,
	})
}

// LoginRequest represents the expected payload for the login endpoint.
type LoginRequest struct {
	Username      string `json:"username" binding:"required"`
	Password      string `json:"password" binding:"required"`
	CaptchaID     string `json:"captcha_id" binding:"required"`
	CaptchaAnswer string `json:"captcha_answer" binding:"required"`
}

// RegisterRequest captures the payload for user registration.
type RegisterRequest struct {
	Username      string `json:"username" binding:"required"`
	Password      string `json:"password" binding:"required,min=6"`
	DisplayName   string `json:"display_name"`
	CaptchaID     string `json:"captcha_id" binding:"required"`
	CaptchaAnswer string `json:"captcha_answer" binding:"required"`
}

// AuthenticatedUser is the minimal identity stored inside JWT claims.
type AuthenticatedUser struct {
	ID       uint
	Username string
}

// AuthService handles authentication concerns.
type AuthService struct {
	users *UserStore
}

// Authenticate validates the given credentials and returns an authenticated user.
func (s *AuthService) Authenticate(ctx context.Context, username, password string) (*AuthenticatedUser, error) {
	if strings.TrimSpace(username) == "" || strings.TrimSpace(password) == "" {
		return nil, jwt.ErrMissingLoginValues
	}

	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, jwt.ErrFailedAuthentication
		}
		return nil, fmt.Errorf("authorization: authenticate user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, jwt.ErrFailedAuthentication
	}

	_ = s.users.TouchLastLogin(ctx, user.ID)

	return &AuthenticatedUser{ID: user.ID, Username: user.Username}, nil
}

// Register creates a new user with the provided credentials.
func (s *AuthService) Register(ctx context.Context, username, password, displayName string) (*User, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	displayName = strings.TrimSpace(displayName)

	if username == "" || password == "" {
		return nil, jwt.ErrMissingLoginValues
	}
	if len(password) < 6 {
		return nil, ErrWeakPassword
	}
	if displayName == "" {
		displayName = username
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("authorization: hash password: %w", err)
	}

	user := &User{
		Username:     username,
		PasswordHash: string(hash),
		DisplayName:  displayName,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("authorization: create user: %w", err)
	}

	return user, nil
}

// UserStore provides data access helpers backed by GORM.
type UserStore struct {
	db *gorm.DB
}

// FindByID loads a user by primary key.
func (s *UserStore) FindByID(ctx context.Context, id uint) (*User, error) {
	if s == nil {
		return nil, errors.New("authorization: user store not initialized")
	}
	var user User
	result := s.db.WithContext(ctx).Where("id = ?", id).First(&user)
	if result.Error != nil {
		return nil, result.Error
	}
	return &user, nil
}

// FindByUsername loads a user by unique username.
func (s *UserStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	result := s.db.WithContext(ctx).Where("username = ?", username).First(&user)
	if result.Error != nil {
		return nil, result.Error
	}
	return &user, nil
}

// Create inserts a new user record.
func (s *UserStore) Create(ctx context.Context, user *User) error {
	return s.db.WithContext(ctx).Create(user).Error
}

// TouchLastLogin stamps the user's most recent successful login.
func (s *UserStore) TouchLastLogin(ctx context.Context, userID uint) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).
		Update("last_login_at", now).Error
}

// User represents an application account.
type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"size:255;not null"`
	DisplayName  string `gorm:"size:128;not null;default:''"`
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func extractUserID(claims jwt.MapClaims) uint {
	if claims == nil {
		return 0
	}
	idValue, ok := claims[identityKey]
	if !ok {
		return 0
	}

	switch v := idValue.(type) {
	case float64:
		return uint(v)
	case int64:
		return uint(v)
	case uint64:
		return uint(v)
	case int:
		return uint(v)
	case uint:
		return v
	case json.Number:
		if parsed, err := v.Int64(); err == nil {
			return uint(parsed)
		}
	}
	return 0
}

func buildUserPayload(user *User) gin.H {
	if user == nil {
		return gin.H{}
	}
	return gin.H{
		"id":            user.ID,
		"username":      user.Username,
		"display_name":  user.DisplayName,
		"last_login_at": user.LastLoginAt,
		"created_at":    user.CreatedAt,
	}
}
