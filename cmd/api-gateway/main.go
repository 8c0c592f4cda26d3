package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/parroquia-tech/catequesis-api/api/swagger"
	"github.com/parroquia-tech/catequesis-api/internal/access"
	"github.com/parroquia-tech/catequesis-api/internal/handler"
	"github.com/parroquia-tech/catequesis-api/internal/middleware"
	"github.com/parroquia-tech/catequesis-api/internal/repository"
	"github.com/parroquia-tech/catequesis-api/internal/service"
	"github.com/parroquia-tech/catequesis-api/pkg/cache"
	"github.com/parroquia-tech/catequesis-api/pkg/config"
	"github.com/parroquia-tech/catequesis-api/pkg/database"
	"github.com/parroquia-tech/catequesis-api/pkg/logger"
	corsmiddleware "github.com/parroquia-tech/catequesis-api/pkg/middleware/cors"
	reqidmiddleware "github.com/parroquia-tech/catequesis-api/pkg/middleware/requestid"
	"github.com/parroquia-tech/catequesis-api/pkg/storage"
)

// @title Catequesis API
// @version 1.0.0
// @description Parish catechism management: enrollments, attendance, and reporting.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Stats.CacheEnabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, stats served without cache", zap.Error(err))
			redisClient = nil
		}
	}
	statsCache := repository.NewCacheRepository(redisClient, logr)
	defer statsCache.Close() //nolint:errcheck

	parishRepo := repository.NewParishRepository(db)
	userRepo := repository.NewUserRepository(db)
	levelRepo := repository.NewLevelRepository(db)
	catechumenRepo := repository.NewCatechumenRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	reportRepo := repository.NewReportRepository(db)

	metricsSvc := service.NewMetricsService()

	authSvc := service.NewAuthService(userRepo, cfg.JWT.Secret, cfg.JWT.Expiration, cfg.JWT.RefreshExpiration, nil, logr)
	parishSvc := service.NewParishService(parishRepo, nil, logr)
	userSvc := service.NewUserService(userRepo, nil, logr)
	levelSvc := service.NewLevelService(levelRepo, nil, logr)
	catechumenSvc := service.NewCatechumenService(catechumenRepo, nil, logr)
	groupSvc := service.NewGroupService(groupRepo, userRepo, levelRepo, nil, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, groupRepo, catechumenRepo, metricsSvc, nil, logr)
	attendanceSvc := service.NewAttendanceService(attendanceRepo, enrollmentRepo, groupRepo, statsCache, cfg.Stats.CacheTTL, metricsSvc, nil, logr)

	var reportSvc *service.ReportService
	if cfg.Reports.Enabled {
		store, err := storage.NewFileStore(cfg.Reports.StorageDir)
		if err != nil {
			logr.Fatal("failed to init report storage", zap.Error(err))
		}
		signer := storage.NewDownloadSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
		reportSvc = service.NewReportService(reportRepo, attendanceRepo, enrollmentRepo, store, signer,
			cfg.Reports.WorkerConcurrency, cfg.Reports.WorkerRetries, metricsSvc, nil, logr)
	}

	policy := access.DefaultPolicy()

	router := buildRouter(cfg, logr, policy, userRepo, metricsSvc, authSvc,
		handler.NewAuthHandler(authSvc),
		handler.NewParishHandler(parishSvc),
		handler.NewUserHandler(userSvc),
		handler.NewLevelHandler(levelSvc),
		handler.NewCatechumenHandler(catechumenSvc),
		handler.NewGroupHandler(groupSvc),
		handler.NewEnrollmentHandler(enrollmentSvc, policy),
		handler.NewAttendanceHandler(attendanceSvc),
		handler.NewReportHandler(reportSvc),
		handler.NewMetricsHandler(metricsSvc),
		reportSvc != nil,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if reportSvc != nil {
		reportSvc.Start(ctx)
		defer reportSvc.Stop()

		go func() {
			ticker := time.NewTicker(cfg.Reports.CleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					reportSvc.Cleanup(ctx, cfg.Reports.SignedURLTTL)
				}
			}
		}()
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	logr.Info("server stopped")
}

func buildRouter(
	cfg *config.Config,
	logr *zap.Logger,
	policy *access.Policy,
	userRepo *repository.UserRepository,
	metricsSvc *service.MetricsService,
	authSvc *service.AuthService,
	authH *handler.AuthHandler,
	parishH *handler.ParishHandler,
	userH *handler.UserHandler,
	levelH *handler.LevelHandler,
	catechumenH *handler.CatechumenHandler,
	groupH *handler.GroupHandler,
	enrollmentH *handler.EnrollmentHandler,
	attendanceH *handler.AttendanceHandler,
	reportH *handler.ReportHandler,
	metricsH *handler.MetricsHandler,
	reportsEnabled bool,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsH.Health)
	r.GET("/ready", metricsH.Ready)
	r.GET("/metrics", metricsH.Metrics)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authH.Login)
		auth.POST("/refresh", authH.Refresh)
	}

	protected := api.Group("", middleware.JWT(authSvc))

	session := protected.Group("/auth")
	{
		session.POST("/logout", authH.Logout)
		session.PUT("/password", authH.ChangePassword)
		session.GET("/me", authH.Me)
	}

	parishes := protected.Group("/parishes")
	{
		parishes.GET("", middleware.Authorize(policy, access.ActionViewRecords), parishH.List)
		parishes.GET("/:id", middleware.Authorize(policy, access.ActionViewRecords), parishH.Get)
		parishes.POST("", middleware.Authorize(policy, access.ActionManageParishes),
			middleware.Audit(userRepo, "create", "parish"), parishH.Create)
		parishes.PUT("/:id", middleware.Authorize(policy, access.ActionManageParishes),
			middleware.Audit(userRepo, "update", "parish"), parishH.Update)
	}

	users := protected.Group("/users", middleware.Authorize(policy, access.ActionManageUsers))
	{
		users.GET("", userH.List)
		users.GET("/:id", userH.Get)
		users.POST("", middleware.Audit(userRepo, "create", "user"), userH.Create)
		users.PUT("/:id", middleware.Audit(userRepo, "update", "user"), userH.Update)
		users.DELETE("/:id", middleware.Audit(userRepo, "deactivate", "user"), userH.Deactivate)
	}

	levels := protected.Group("/levels")
	{
		levels.GET("", middleware.Authorize(policy, access.ActionViewRecords), levelH.List)
		levels.GET("/:id", middleware.Authorize(policy, access.ActionViewRecords), levelH.Get)
		levels.POST("", middleware.Authorize(policy, access.ActionManageLevels),
			middleware.Audit(userRepo, "create", "level"), levelH.Create)
		levels.PUT("/:id", middleware.Authorize(policy, access.ActionManageLevels),
			middleware.Audit(userRepo, "update", "level"), levelH.Update)
	}

	catechumens := protected.Group("/catechumens")
	{
		catechumens.GET("", middleware.Authorize(policy, access.ActionViewRecords), catechumenH.List)
		catechumens.GET("/:id", middleware.Authorize(policy, access.ActionViewRecords), catechumenH.Get)
		catechumens.POST("", middleware.Authorize(policy, access.ActionManageCatechumens),
			middleware.Audit(userRepo, "create", "catechumen"), catechumenH.Create)
		catechumens.PUT("/:id", middleware.Authorize(policy, access.ActionManageCatechumens),
			middleware.Audit(userRepo, "update", "catechumen"), catechumenH.Update)
	}

	groups := protected.Group("/groups")
	{
		groups.GET("", middleware.Authorize(policy, access.ActionViewRecords), groupH.List)
		groups.GET("/:id", middleware.Authorize(policy, access.ActionViewRecords), groupH.Get)
		groups.GET("/:id/catechists", middleware.Authorize(policy, access.ActionViewRecords), groupH.Catechists)
		groups.POST("", middleware.Authorize(policy, access.ActionManageGroups),
			middleware.Audit(userRepo, "create", "group"), groupH.Create)
		groups.PUT("/:id", middleware.Authorize(policy, access.ActionManageGroups),
			middleware.Audit(userRepo, "update", "group"), groupH.Update)
		groups.POST("/:id/catechists", middleware.Authorize(policy, access.ActionManageGroups),
			middleware.Audit(userRepo, "assign_catechist", "group"), groupH.AssignCatechist)
		groups.DELETE("/:id/catechists/:userId", middleware.Authorize(policy, access.ActionManageGroups),
			middleware.Audit(userRepo, "remove_catechist", "group"), groupH.RemoveCatechist)
	}

	enrollments := protected.Group("/enrollments")
	{
		enrollments.GET("", middleware.Authorize(policy, access.ActionViewRecords), enrollmentH.List)
		enrollments.GET("/:id", middleware.Authorize(policy, access.ActionViewRecords), enrollmentH.Get)
		enrollments.GET("/:id/payments/totals", middleware.Authorize(policy, access.ActionViewRecords), enrollmentH.PaymentTotals)
		enrollments.GET("/:id/grades", middleware.Authorize(policy, access.ActionViewRecords), enrollmentH.Grades)
		enrollments.GET("/:id/observations", middleware.Authorize(policy, access.ActionViewRecords), enrollmentH.Observations)
		enrollments.POST("", middleware.Authorize(policy, access.ActionCreateEnrollment),
			middleware.Audit(userRepo, "create", "enrollment"), enrollmentH.Create)
		enrollments.PUT("/:id/documents", middleware.Authorize(policy, access.ActionCreateEnrollment),
			middleware.Audit(userRepo, "update_documents", "enrollment"), enrollmentH.UpdateDocuments)
		enrollments.POST("/:id/approve", middleware.Authorize(policy, access.ActionApproveEnrollment),
			middleware.Audit(userRepo, "approve", "enrollment"), enrollmentH.Approve)
		enrollments.PUT("/:id/status", middleware.Authorize(policy, access.ActionChangeEnrollment),
			middleware.Audit(userRepo, "change_status", "enrollment"), enrollmentH.ChangeStatus)
		enrollments.POST("/:id/payments", middleware.Authorize(policy, access.ActionRegisterPayment),
			middleware.Audit(userRepo, "register_payment", "enrollment"), enrollmentH.RegisterPayment)
		enrollments.PUT("/:id/payments/:paymentId/settle", middleware.Authorize(policy, access.ActionRegisterPayment),
			middleware.Audit(userRepo, "settle_payment", "enrollment"), enrollmentH.SettlePayment)
		enrollments.POST("/:id/grades", middleware.Authorize(policy, access.ActionRecordGrade),
			middleware.Audit(userRepo, "record_grade", "enrollment"), enrollmentH.AddGrade)
		enrollments.POST("/:id/observations", middleware.Authorize(policy, access.ActionAddObservation),
			middleware.Audit(userRepo, "add_observation", "enrollment"), enrollmentH.AddObservation)
		enrollments.PUT("/:id/follow-up", middleware.Authorize(policy, access.ActionAddObservation),
			middleware.Audit(userRepo, "set_follow_up", "enrollment"), enrollmentH.SetFollowUp)
		enrollments.DELETE("/:id", middleware.Authorize(policy, access.ActionDeleteEnrollment),
			middleware.Audit(userRepo, "delete", "enrollment"), enrollmentH.Delete)
	}

	attendance := protected.Group("/attendance")
	{
		attendance.GET("", middleware.Authorize(policy, access.ActionViewRecords), attendanceH.List)
		attendance.POST("", middleware.Authorize(policy, access.ActionRecordAttendance),
			middleware.Audit(userRepo, "create", "attendance"), attendanceH.Record)
		attendance.PUT("/:id", middleware.Authorize(policy, access.ActionRecordAttendance),
			middleware.Audit(userRepo, "update", "attendance"), attendanceH.Update)
		attendance.DELETE("/:id", middleware.Authorize(policy, access.ActionRecordAttendance),
			middleware.Audit(userRepo, "delete", "attendance"), attendanceH.Delete)
		attendance.GET("/:id/tasks", middleware.Authorize(policy, access.ActionViewRecords), attendanceH.Tasks)
		attendance.POST("/:id/tasks", middleware.Authorize(policy, access.ActionRecordAttendance), attendanceH.AddTask)
		attendance.POST("/groups/:groupId/bulk", middleware.Authorize(policy, access.ActionRecordAttendance),
			middleware.Audit(userRepo, "bulk_record", "attendance"), attendanceH.BulkRecord)
		attendance.GET("/groups/:groupId/stats", middleware.Authorize(policy, access.ActionViewRecords), attendanceH.GroupStats)
		attendance.GET("/parishes/:parishId/stats", middleware.Authorize(policy, access.ActionViewRecords), attendanceH.ParishStats)
		attendance.GET("/enrollments/:enrollmentId/summary", middleware.Authorize(policy, access.ActionViewRecords), attendanceH.Summary)
		attendance.GET("/notifications/pending", middleware.Authorize(policy, access.ActionNotifyAbsences), attendanceH.PendingNotifications)
		attendance.POST("/notifications", middleware.Authorize(policy, access.ActionNotifyAbsences),
			middleware.Audit(userRepo, "notify", "attendance"), attendanceH.MarkNotified)
		attendance.POST("/:id/reminder", middleware.Authorize(policy, access.ActionNotifyAbsences),
			middleware.Audit(userRepo, "remind", "attendance"), attendanceH.MarkReminder)
	}

	if reportsEnabled {
		// Downloads authenticate through the signed token in the query string.
		api.GET("/reports/download", reportH.Download)

		reports := protected.Group("/reports", middleware.Authorize(policy, access.ActionGenerateReports))
		{
			reports.POST("", middleware.Audit(userRepo, "create", "report"), reportH.Enqueue)
			reports.GET("", reportH.ListMine)
			reports.GET("/:id", reportH.Status)
		}
	}

	return r
}
