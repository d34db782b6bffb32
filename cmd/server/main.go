package main

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"
	"warreg/entity"
	"warreg/impl/auth"
	"warreg/impl/coordinator"
	"warreg/impl/core"
	"warreg/impl/ledger"
	"warreg/impl/pool"
	"warreg/internal/config"
	"warreg/internal/crm"
	"warreg/internal/database"
	"warreg/internal/http-server/api"
	"warreg/internal/marketing"
	"warreg/internal/notify"
	"warreg/internal/store"
	"warreg/lib/logger"
	"warreg/lib/sl"
)

const logFileName = "warreg.log"

func main() {
	configPath := flag.String("conf", "config.yml", "path to config file")
	logPath := flag.String("log", "/var/log/", "path to log file directory")
	initAdmin := flag.Bool("init-admin", false, "create the default admin user and exit")
	flag.Parse()

	conf := config.MustLoad(*configPath)
	lg := logger.SetupLogger(conf.Env, filepath.Join(*logPath, logFileName))
	lg.Info("starting warreg", slog.String("config", *configPath), slog.String("env", conf.Env))

	db := database.NewMongoClient(conf)
	if db == nil {
		log.Fatal("mongo is disabled in configuration")
	}
	if err := db.EnsureIndexes(); err != nil {
		log.Fatal("ensure indexes: ", err)
	}

	if *initAdmin {
		runInitAdmin(conf, db, lg)
		return
	}

	alerter, err := notify.NewTelegram(conf, lg)
	if err != nil {
		lg.Error("telegram alerts unavailable", sl.Err(err))
	}
	if alerter != nil {
		handler := logger.NewTelegramHandler(lg.Handler(), alerter, slog.LevelError)
		lg = slog.New(handler)
	}

	poolService := pool.New(db, lg)
	ledgerService := ledger.New(db, lg)
	coord := coordinator.New(poolService, ledgerService, lg)
	if alerter != nil {
		coord.SetAlerter(alerter)
	}

	dispatcher := marketing.New(db, lg)
	if crmClient := crm.NewClient(conf, lg); crmClient != nil {
		dispatcher.WithCRM(crmClient)
	}
	storeClient, err := store.NewClient(conf, lg)
	if err != nil {
		log.Fatal("store client: ", err)
	}
	if storeClient != nil {
		defer storeClient.Close()
		dispatcher.WithStore(storeClient)
	}
	dispatcher.Start()
	defer dispatcher.Stop()
	coord.SetNotifier(dispatcher)

	handler := core.New(poolService, ledgerService, coord, lg)
	handler.SetAuthService(auth.New(db))

	if err = api.New(conf, lg, handler); err != nil {
		lg.Error("api server stopped", sl.Err(err))
		os.Exit(1)
	}
}

// runInitAdmin is the explicit deployment-time bootstrap: it upserts
// the default admin user from config and exits. Kept out of the normal
// start path on purpose.
func runInitAdmin(conf *config.Config, db *database.MongoDB, lg *slog.Logger) {
	if conf.Admin.Token == "" {
		log.Fatal("admin token is not configured")
	}
	user := &entity.User{
		Username:  conf.Admin.Username,
		Email:     conf.Admin.Email,
		Token:     conf.Admin.Token,
		Role:      entity.RoleAdmin,
		CreatedAt: time.Now(),
	}
	if err := db.EnsureAdminUser(user); err != nil {
		log.Fatal("init admin: ", err)
	}
	lg.Info("admin user ready",
		slog.String("username", user.Username),
		sl.Secret("token", user.Token))
}
