package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	coreconfig "github.com/avelov/tg-pulse/core/config"
	coreDB "github.com/avelov/tg-pulse/core/database"
	"github.com/avelov/tg-pulse/domains/discussion"
	"github.com/avelov/tg-pulse/infrastructure/telegram"
	"github.com/avelov/tg-pulse/infrastructure/valkey"
	"github.com/avelov/tg-pulse/pkg/captionworker"
	"github.com/avelov/tg-pulse/providers"
	"github.com/avelov/tg-pulse/repository"
	"github.com/avelov/tg-pulse/ui/rest"
	"github.com/avelov/tg-pulse/ui/rest/middleware"
	"github.com/avelov/tg-pulse/usecase"
)

var restCmd = &cobra.Command{
	Use:   "rest",
	Short: "Run the webhook server and the daily poll scheduler",
	Run:   restServer,
}

func init() {
	rootCmd.AddCommand(restCmd)
}

func restServer(_ *cobra.Command, _ []string) {
	cfg := coreconfig.Global

	db, err := coreDB.NewDatabase(cfg)
	if err != nil {
		logrus.Fatalf("Database connection failed: %v", err)
	}

	ledgerRepo := repository.NewPostLedgerRepository(db, nil)
	if err := ledgerRepo.InitSchema(context.Background()); err != nil {
		logrus.Fatalf("Ledger schema migration failed: %v", err)
	}
	pollRepo := repository.NewPollStoreRepository(db)
	if err := pollRepo.InitSchema(context.Background()); err != nil {
		logrus.Fatalf("Poll schema migration failed: %v", err)
	}

	var mapStore discussion.IMapStore
	var tickLocker usecase.ITickLocker
	if cfg.Valkey.Enabled {
		valkeyClient, err := valkey.NewClient(valkey.Config{
			Address:   cfg.Valkey.Address,
			Password:  cfg.Valkey.Password,
			DB:        cfg.Valkey.DB,
			KeyPrefix: cfg.Valkey.KeyPrefix,
		})
		if err != nil {
			logrus.Fatalf("Valkey connection failed: %v", err)
		}
		defer valkeyClient.Close()
		mapStore = repository.NewValkeyDiscussionMap(valkeyClient)
		tickLocker = valkeyClient
		logrus.Info("[APP] Valkey discussion map enabled")
	} else {
		mapStore = repository.NewMemoryDiscussionMap()
	}

	transport, err := telegram.NewTransport(cfg.Telegram)
	if err != nil {
		logrus.Fatalf("Telegram authorization failed: %v", err)
	}

	captioner, err := providers.NewCaptioner(cfg.AI)
	if err != nil {
		logrus.Fatalf("AI provider setup failed: %v", err)
	}

	loc, err := cfg.Poll.Location()
	if err != nil {
		logrus.Fatalf("Timezone %q not recognized: %v", cfg.Poll.Timezone, err)
	}

	captionPool := captionworker.NewPool(4, 64)
	captionPool.Start(context.Background())

	mapperService := usecase.NewMapperService(mapStore)
	ingestService := usecase.NewIngestService(cfg, ledgerRepo, mapperService, transport, captioner, captionPool, loc)
	scheduler := usecase.NewSchedulerService(cfg.Poll, pollRepo, ledgerRepo, captioner, transport, tickLocker, loc, nil)

	if err := scheduler.Start(); err != nil {
		logrus.Fatalf("Scheduler start failed: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName:               "tg-pulse",
		Network:               "tcp",
		DisableStartupMessage: false,
		ServerHeader:          "Hidden",
	})

	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.Recovery())
	app.Use(limiter.New(limiter.Config{
		Max:        1000,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
	}))
	if cfg.App.Debug {
		app.Use(logger.New())
	}

	rest.InitRestHealth(app, cfg)
	rest.InitRestWebhook(app, ingestService, mapperService, cfg.Telegram)

	if len(cfg.App.BasicAuth) > 0 {
		account := make(map[string]string)
		for _, pair := range cfg.App.BasicAuth {
			ba := strings.Split(pair, ":")
			if len(ba) != 2 {
				logrus.Fatalln("Basic auth is not valid, please use the following format <user>:<secret>")
			}
			account[ba[0]] = ba[1]
		}
		adminGroup := app.Group("/admin")
		adminGroup.Use(basicauth.New(basicauth.Config{Users: account}))
		rest.InitRestAdmin(adminGroup, scheduler, pollRepo)
	} else {
		logrus.Warn("[APP] APP_BASIC_AUTH not set, admin API disabled")
	}

	if cfg.App.BaseURL != "" {
		if err := transport.SetWebhook(cfg.WebhookURL(), cfg.Telegram.WebhookSecretToken); err != nil {
			logrus.Fatalf("Webhook registration failed: %v", err)
		}
	} else {
		logrus.Warn("[APP] PUBLIC_BASE_URL not set, webhook not registered")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("[APP] Termination signal received, shutting down gracefully...")
		scheduler.Stop()
		captionPool.Stop()
		if err := app.Shutdown(); err != nil {
			logrus.Errorf("[APP] Error during Fiber shutdown: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.App.Port); err != nil {
		logrus.Fatalf("Server stopped: %v", err)
	}
}
