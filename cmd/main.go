package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-envconfig"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/mypub/mypub/ap"
	"github.com/mypub/mypub/apclient"
	"github.com/mypub/mypub/api"
	"github.com/mypub/mypub/directory"
	"github.com/mypub/mypub/follow"
	"github.com/mypub/mypub/inbox"
	"github.com/mypub/mypub/store"
	"github.com/mypub/mypub/types"
)

var (
	version      = "unknown"
	buildMachine = "unknown"
	buildTime    = "unknown"
	goVersion    = "unknown"
)

func main() {
	e := echo.New()

	configPaths := []string{}
	configPath := os.Getenv("MYPUB_CONFIG")
	if configPath != "" {
		configPaths = append(configPaths, configPath)
	}

	additionalConfigs := os.Getenv("MYPUB_CONFIGS")
	if additionalConfigs != "" {
		for _, v := range strings.Split(additionalConfigs, ":") {
			configPaths = append(configPaths, v)
		}
	}

	if len(configPaths) == 0 {
		configPaths = append(configPaths, "/etc/mypub/config.yaml")
	}

	config, err := LoadConfig(context.Background(), configPaths, envconfig.OsLookuper())
	if err != nil {
		slog.Error("Failed to load config: ", slog.String("error", err.Error()))
		panic(err)
	}

	slog.Info(fmt.Sprintf("mypub %s starting...", version))
	slog.Info(fmt.Sprintf("build: %s %s %s", buildMachine, buildTime, goVersion))
	slog.Info(fmt.Sprintf("Config loaded! Domain: %s", config.Instance.Domain))

	config.NodeInfo.Software.Name = "mypub"
	config.NodeInfo.Software.Version = version

	e.HidePort = true
	e.HideBanner = true

	if config.Server.EnableTrace {
		cleanup, err := setupTraceProvider(config.Server.TraceEndpoint, config.Instance.Domain+"/mypub", version)
		if err != nil {
			panic(err)
		}
		defer cleanup()

		skipper := otelecho.WithSkipper(
			func(c echo.Context) bool {
				return c.Path() == "/metrics" || c.Path() == "/health"
			},
		)
		e.Use(otelecho.Middleware(config.Instance.Domain, skipper))
	}

	e.Use(echoprometheus.NewMiddleware("mypub"))
	e.Use(middleware.Recover())

	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold:             300 * time.Millisecond, // Slow SQL threshold
			LogLevel:                  logger.Warn,            // Log level
			IgnoreRecordNotFoundError: true,                   // Ignore ErrRecordNotFound error for logger
			Colorful:                  true,                   // Enable color
		},
	)

	db, err := gorm.Open(postgres.Open(config.Server.Dsn), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		panic("failed to connect database")
	}
	sqlDB, err := db.DB() // for pinging
	if err != nil {
		panic("failed to connect database")
	}
	defer sqlDB.Close()

	err = db.Use(tracing.NewPlugin(
		tracing.WithDBName("postgres"),
	))
	if err != nil {
		panic("failed to setup tracing plugin")
	}

	mc := memcache.New(config.Server.MemcachedAddr)
	defer mc.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Server.RedisAddr,
		Password: "", // no password set
		DB:       config.Server.RedisDB,
	})
	err = redisotel.InstrumentTracing(
		rdb,
		redisotel.WithAttributes(
			attribute.KeyValue{
				Key:   "db.name",
				Value: attribute.StringValue("redis"),
			},
		),
	)
	if err != nil {
		panic("failed to setup tracing plugin")
	}

	storeService := store.NewStore(db)

	log.Println("start migrate")
	err = storeService.Migrate()
	if err != nil {
		panic(err)
	}

	apclient.UserAgent = fmt.Sprintf("MyPub/%s (+https://%s)", version, config.Instance.Domain)
	timeout := time.Duration(config.Server.RequestTimeout) * time.Second
	apClient := apclient.NewApClient(&http.Client{Timeout: timeout}, mc, timeout)
	seen := store.NewSeenStore(rdb)

	dir := directory.NewDirectory(storeService, apClient, config.Instance)
	pipeline := inbox.NewPipeline(dir)
	follows := follow.NewService(storeService, dir, apClient)

	apService := ap.NewService(
		storeService,
		pipeline,
		follows,
		seen,
		config.Instance,
		config.NodeInfo,
	)
	apHandler := ap.NewHandler(apService)

	apiService := api.NewService(storeService, dir, apClient, follows, config.Instance)
	apiHandler := api.NewHandler(apiService)

	err = ensureInstanceActor(context.Background(), apiService, config.Instance)
	if err != nil {
		panic(err)
	}

	apHandler.Register(e, config.Instance.Paths)
	apiHandler.Register(e.Group("/api"), config.Server.AdminToken)

	e.GET("/health", func(c echo.Context) (err error) {
		ctx := c.Request().Context()

		err = sqlDB.Ping()
		if err != nil {
			return c.String(http.StatusInternalServerError, "db error")
		}

		err = rdb.Ping(ctx).Err()
		if err != nil {
			return c.String(http.StatusInternalServerError, "redis error")
		}

		return c.String(http.StatusOK, "ok")
	})

	e.GET("/metrics", echoprometheus.NewHandler())

	e.Logger.Fatal(e.Start(":" + config.Server.Port))
}

// ensureInstanceActor provisions the local user whose key signs actor fetches.
func ensureInstanceActor(ctx context.Context, service *api.Service, instance types.InstanceConfig) error {
	_, err := service.GetUser(ctx, instance.AdminHandle)
	if err == nil {
		return nil
	}
	if !types.IsCode(err, types.ErrNotFound) {
		return err
	}

	user, err := service.CreateUser(ctx, api.CreateUserRequest{
		Handle:  instance.AdminHandle,
		Name:    instance.Title,
		Summary: instance.Description,
	})
	if err != nil {
		return err
	}
	slog.Info("instance actor created", slog.String("url", user.URL))
	return nil
}
