package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fintracker/config"
	"fintracker/controllers"
	"fintracker/database"
	"fintracker/middleware"
	"fintracker/services"
	"fintracker/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// суммы в JSON - числа, как у веб-клиента
func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

func main() {
	// Инициализируем конфигурацию
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	if cfg.Log.Dir != "" {
		closeLogs, err := utils.InitLoggers(cfg.Log.Dir)
		if err != nil {
			log.Fatalf("Ошибка инициализации логов: %v", err)
		}
		defer closeLogs()
	}

	store, checker, closeStore, err := newStore(cfg)
	if err != nil {
		log.Fatalf("Ошибка подключения к хранилищу: %v", err)
	}
	defer closeStore()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	borrowingService := services.NewBorrowingService(store)
	exportService := services.NewExportService(borrowingService)

	// Запускаем планировщик напоминаний
	if cfg.Reminder.Enabled {
		scheduler := services.NewReminderSchedulerService(store, services.NewEmailService(cfg), cfg.Reminder.Interval)
		scheduler.Start(ctx)
		utils.LogInfo("Планировщик напоминаний запущен, интервал %v", cfg.Reminder.Interval)
	}

	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           newRouter(cfg, borrowingService, exportService),
		ReadHeaderTimeout: 10 * time.Second,
	}
	opsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Ops.Port),
		Handler:           newOpsEngine(cfg, checker),
		ReadHeaderTimeout: 10 * time.Second,
	}

	for _, srv := range []*http.Server{apiServer, opsServer} {
		go func(srv *http.Server) {
			utils.LogInfo("Сервер запущен на %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				utils.LogError("Ошибка запуска сервера %s: %v", srv.Addr, err)
				stop()
			}
		}(srv)
	}

	<-ctx.Done()
	utils.LogInfo("Остановка серверов")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range []*http.Server{apiServer, opsServer} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			utils.LogError("Ошибка остановки сервера %s: %v", srv.Addr, err)
		}
	}
}

// newStore выбирает хранилище по db.driver
func newStore(cfg *config.Config) (services.BorrowingStore, controllers.HealthChecker, func(), error) {
	if cfg.DB.Driver == config.DriverMemory {
		utils.LogInfo("Используется хранилище в памяти, данные не сохраняются между запусками")
		return database.NewMemoryStore(), nil, func() {}, nil
	}

	cipher, err := utils.NewContactCipher(cfg.Crypto.ContactKey)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("ошибка ключа шифрования контактов: %w", err)
	}

	db, err := database.NewDatabase(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	closeDB := func() {
		if err := db.Close(); err != nil {
			utils.LogError("Ошибка закрытия базы данных: %v", err)
		}
	}
	return database.NewBorrowingRepository(db.DB, cipher), db, closeDB, nil
}

// newRouter собирает API-роутер
func newRouter(cfg *config.Config, borrowings *services.BorrowingService, exporter *services.ExportService) *mux.Router {
	router := mux.NewRouter()

	protected := router.PathPrefix("/api").Subrouter()
	protected.Use(middleware.LoggingMiddleware)
	protected.Use(middleware.AuthMiddleware([]byte(cfg.JWT.SecretKey)))
	protected.Use(middleware.OwnerRateLimit(utils.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)))

	controllers.NewBorrowingController(borrowings, exporter).RegisterRoutes(protected)

	return router
}

// newOpsEngine собирает служебный сервер на gin
func newOpsEngine(cfg *config.Config, checker controllers.HealthChecker) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(
		middleware.Recovery(),
		middleware.Logger(),
		middleware.CORSMiddleware(),
		middleware.RateLimit(utils.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)),
	)

	controllers.NewOpsController(checker).RegisterRoutes(engine)
	return engine
}
