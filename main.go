package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gov-dx-sandbox/access-broker/shared/utils"
	v1 "github.com/gov-dx-sandbox/access-broker/v1"
	v1handlers "github.com/gov-dx-sandbox/access-broker/v1/handlers"
	v1middleware "github.com/gov-dx-sandbox/access-broker/v1/middleware"
	v1models "github.com/gov-dx-sandbox/access-broker/v1/models"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load .env file if it exists (optional - fails silently if not found)
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))
	slog.SetDefault(logger)

	slog.Info("Starting Access Broker initialization")

	// Initialize GORM database connection
	dbConfig := v1.NewDatabaseConfig()
	gormDB, err := v1.ConnectGormDB(dbConfig)
	if err != nil {
		slog.Error("Failed to connect to GORM database", "error", err)
		os.Exit(1)
	}

	if err := gormDB.AutoMigrate(&v1models.AccessRequest{}); err != nil {
		slog.Error("Failed to migrate database schema", "error", err)
		os.Exit(1)
	}

	// Initialize V1 handlers
	v1Handler, err := v1handlers.NewV1Handler(gormDB)
	if err != nil {
		slog.Error("Failed to initialize V1 handler", "error", err)
		os.Exit(1)
	}

	// Create a mux for API routes
	apiMux := http.NewServeMux()
	v1Handler.SetupV1Routes(apiMux) // All /api/v1/... routes go here

	// Setup middleware chain
	corsMiddleware := v1middleware.CORSMiddleware()
	metricsMiddleware := v1middleware.MetricsMiddleware()

	// Setup JWT Authentication middleware
	asgardeoBaseURL := os.Getenv("ASGARDEO_BASE_URL")
	if asgardeoBaseURL == "" {
		slog.Error("ASGARDEO_BASE_URL environment variable is required")
		os.Exit(1)
	}

	// Support multiple valid client IDs for different consumers
	userPortalClientID := os.Getenv("ASGARDEO_USER_PORTAL_CLIENT_ID")
	adminPortalClientID := os.Getenv("ASGARDEO_ADMIN_PORTAL_CLIENT_ID")

	if userPortalClientID == "" && adminPortalClientID == "" {
		slog.Error("At least one of ASGARDEO_USER_PORTAL_CLIENT_ID or ASGARDEO_ADMIN_PORTAL_CLIENT_ID must be set")
		os.Exit(1)
	}

	var validClientIDs []string
	if userPortalClientID != "" {
		validClientIDs = append(validClientIDs, userPortalClientID)
	}
	if adminPortalClientID != "" {
		validClientIDs = append(validClientIDs, adminPortalClientID)
	}

	jwtConfig := v1middleware.JWTAuthConfig{
		JWKSURL:        utils.GetEnvOrDefault("ASGARDEO_JWKS_URL", asgardeoBaseURL+"/oauth2/jwks"),
		ExpectedIssuer: utils.GetEnvOrDefault("ASGARDEO_TOKEN_URL", asgardeoBaseURL+"/oauth2/token"),
		ValidClientIDs: validClientIDs,
		OrgName:        utils.GetEnvOrDefault("ASGARDEO_ORG_NAME", ""),
		Timeout:        10 * time.Second,
	}

	if err := jwtConfig.Validate(); err != nil {
		slog.Error("Invalid JWT configuration", "error", err)
		os.Exit(1)
	}

	jwtAuthMiddleware := v1middleware.NewJWTAuthMiddleware(jwtConfig)

	// Setup Authorization middleware with configurable security policy
	authMode := utils.GetEnvOrDefault("AUTHORIZATION_MODE", "fail_open_admin_system")
	strictMode := utils.GetEnvOrDefault("AUTHORIZATION_STRICT_MODE", "false") == "true"

	var authConfig v1middleware.AuthorizationConfig
	switch authMode {
	case "fail_closed":
		authConfig.Mode = v1models.AuthorizationModeFailClosed
	case "fail_open_admin":
		authConfig.Mode = v1models.AuthorizationModeFailOpenAdmin
	case "fail_open_admin_system":
		authConfig.Mode = v1models.AuthorizationModeFailOpenAdminSystem
	default:
		slog.Error("Invalid authorization mode. Valid options: fail_closed, fail_open_admin, fail_open_admin_system", "mode", authMode)
		os.Exit(1)
	}
	authConfig.StrictMode = strictMode

	authorizationMiddleware := v1middleware.NewAuthorizationMiddlewareWithConfig(authConfig)

	// Initialize Audit system (creates global instance for direct LogAuditEvent calls from handlers)
	auditServiceURL := utils.GetEnvOrDefault("CHOREO_AUDIT_CONNECTION_SERVICEURL", "")
	_ = v1middleware.NewAuditMiddleware(auditServiceURL)

	// Apply middleware chain (Metrics -> CORS -> JWT Auth -> Authorization) to the API mux ONLY
	// Audit logging is done directly in handlers via LogAuditEvent calls, not through middleware
	protectedAPIHandler := metricsMiddleware(
		corsMiddleware(
			jwtAuthMiddleware.AuthenticateJWT(
				authorizationMiddleware.AuthorizeRequest(apiMux),
			),
		),
	)

	// Create the MAIN (top-level) mux for all incoming traffic
	topLevelMux := http.NewServeMux()

	// Public routes bypass authentication
	topLevelMux.Handle("/health", utils.PanicRecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		type DBHealth struct {
			Status   string `json:"status"`
			Error    string `json:"error,omitempty"`
			Database string `json:"database,omitempty"`
		}
		type HealthStatus struct {
			Status    string              `json:"status"`
			Service   string              `json:"service"`
			Databases map[string]DBHealth `json:"databases"`
		}

		status := HealthStatus{
			Status:  "healthy",
			Service: "access-broker",
			Databases: map[string]DBHealth{
				"v1": {Status: "unknown"},
			},
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if gormDB == nil {
			status.Databases["v1"] = DBHealth{Status: "unhealthy", Error: "GORM connection is nil"}
			status.Status = "unhealthy"
		} else {
			sqlDB, err := gormDB.DB()
			if err != nil {
				status.Databases["v1"] = DBHealth{Status: "unhealthy", Error: fmt.Sprintf("failed to get sql.DB: %v", err)}
				status.Status = "unhealthy"
			} else if err := sqlDB.PingContext(ctx); err != nil {
				status.Databases["v1"] = DBHealth{Status: "unhealthy", Error: err.Error()}
				status.Status = "unhealthy"
			} else {
				status.Databases["v1"] = DBHealth{Status: "healthy", Database: dbConfig.Database}
			}
		}

		statusCode := http.StatusOK
		if status.Status != "healthy" {
			statusCode = http.StatusServiceUnavailable
		}

		utils.RespondWithJSON(w, statusCode, status)
	})))

	topLevelMux.Handle("/metrics", promhttp.Handler())

	// Register the protected API routes to the top-level mux
	// All traffic to /api/v1/ (and its sub-paths) passes through the middleware chain
	topLevelMux.Handle("/api/v1/", protectedAPIHandler)

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	addr := ":" + port
	server := &http.Server{
		Addr:         addr,
		Handler:      topLevelMux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Access Broker starting", "port", port, "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to start Access Broker", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down Access Broker...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Gracefully close database connection
	if gormDB != nil {
		if sqlDB, err := gormDB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				slog.Error("Failed to close database connection", "error", err)
			}
		}
	}

	slog.Info("Access Broker exited")
}
