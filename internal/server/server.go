package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/piavik/PhotoShare/internal/cache"
	"github.com/piavik/PhotoShare/internal/config"
	"github.com/piavik/PhotoShare/internal/handler"
	"github.com/piavik/PhotoShare/internal/middleware"
	"github.com/piavik/PhotoShare/internal/models"
	"github.com/piavik/PhotoShare/internal/repository"
	"github.com/piavik/PhotoShare/internal/service"
)

type Server struct {
	router *gin.Engine
	db     *sqlx.DB
	rdb    *redis.Client
	cfg    *config.Config
	log    *logrus.Logger
	zlog   *zap.Logger
}

func NewServer(db *sqlx.DB, rdb *redis.Client, cfg *config.Config, zlog *zap.Logger, log *logrus.Logger) *Server {
	router := gin.Default()

	s := &Server{
		router: router,
		db:     db,
		rdb:    rdb,
		cfg:    cfg,
		log:    log,
		zlog:   zlog,
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	userRepo := repository.NewUserRepository(s.db, s.log)
	revocations := cache.NewRevocationStore(s.rdb)
	userCache := cache.NewUserCache(s.rdb)
	tokens := service.NewTokenManager(s.cfg)

	mail, err := service.NewSMTPSender(s.cfg)
	if err != nil {
		s.zlog.Warn("Mail sender disabled", zap.Error(err))
		mail = nil
	}

	authService := service.NewAuthService(userRepo, revocations, userCache, tokens, mail, s.zlog, s.cfg)
	authHandler := handler.NewAuthHandler(authService, s.log)
	usersHandler := handler.NewUsersHandler(authService, s.log)
	authMW := middleware.NewAuthMiddleware(authService, s.zlog)

	// Ping route for health check
	s.router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})

	// Authentication routes
	authGroup := s.router.Group("/api/auth")
	authGroup.POST("/signup", authHandler.Signup)
	authGroup.POST("/login", authHandler.Login)
	authGroup.POST("/refresh_token", authHandler.Refresh)
	authGroup.GET("/confirmed_email/:token", authHandler.ConfirmEmail)
	authGroup.POST("/request_email", authHandler.RequestEmail)
	authGroup.POST("/forgot_password", authHandler.ForgotPassword)
	authGroup.GET("/reset_password/:token", authHandler.ResetPassword)

	// Authenticated routes
	authRequired := s.router.Group("/api")
	authRequired.Use(authMW.Authenticate())
	{
		authRequired.POST("/auth/logout", authHandler.Logout)

		users := authRequired.Group("/users")
		users.GET("/me", usersHandler.Me)
		users.PATCH("/avatar", usersHandler.UpdateAvatar)
		users.PATCH("/username", usersHandler.UpdateUsername)
		users.PATCH("/email", usersHandler.UpdateEmail)
		users.PATCH("/password", usersHandler.UpdatePassword)

		admin := users.Group("")
		admin.Use(authMW.RequireRole(models.RoleAdmin))
		{
			admin.PATCH("/:id/role", usersHandler.UpdateRole)
			admin.PATCH("/:id/ban", usersHandler.Ban)
		}
	}
}

func (s *Server) Run(addr string) {
	s.log.Infof("Server starting on port %s...", addr)
	if err := s.router.Run(addr); err != nil {
		s.log.Fatalf("Server failed to start: %v", err)
	}
}
