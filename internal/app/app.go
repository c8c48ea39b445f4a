// Package app wires configuration, storage and services shared by the API
// server and the operator CLI.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/account"
	accountrepo "github.com/ovaphlow/pitchfork/service-streaming-core/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/content"
	contentrepo "github.com/ovaphlow/pitchfork/service-streaming-core/internal/content/repo"
	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/geo"
	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/subscription"
	subrepo "github.com/ovaphlow/pitchfork/service-streaming-core/internal/subscription/repo"
	"github.com/ovaphlow/pitchfork/service-streaming-core/pkg/database"
)

const (
	StoreSQL    = "sql"
	StoreMongo  = "mongo"
	StoreMemory = "memory"

	CatalogMongo = "mongo"
	CatalogFile  = "file"
)

type Config struct {
	StoreBackend  string
	CatalogSource string
	CatalogFile   string
	Database      database.Config
	Mongo         database.MongoConfig
	Policy        account.Policy
	Subscription  subscription.Config
	Geo           geo.Config
}

// ConfigFromEnv reads STORE_BACKEND (sql|mongo|memory), CATALOG_SOURCE
// (mongo|file) and CATALOG_FILE plus the per-package settings.
func ConfigFromEnv() (Config, error) {
	policy, err := account.PolicyFromEnv()
	if err != nil {
		return Config{}, err
	}
	geoCfg, err := geo.ConfigFromEnv()
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		StoreBackend:  strings.ToLower(os.Getenv("STORE_BACKEND")),
		CatalogSource: strings.ToLower(os.Getenv("CATALOG_SOURCE")),
		CatalogFile:   os.Getenv("CATALOG_FILE"),
		Database:      database.ConfigFromEnv(),
		Mongo:         database.MongoConfigFromEnv(),
		Policy:        policy,
		Subscription:  subscription.ConfigFromEnv(),
		Geo:           geoCfg,
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = StoreSQL
	}
	if cfg.CatalogSource == "" {
		cfg.CatalogSource = CatalogMongo
		if cfg.CatalogFile != "" {
			cfg.CatalogSource = CatalogFile
		}
	}
	return cfg, nil
}

// App holds the wired services. Close releases the connections it opened.
type App struct {
	Accounts *account.Service
	Content  *content.Service
	Policy   account.Policy

	sqlDB  *sqlx.DB
	mongo  *mongo.Client
	logger *zap.SugaredLogger
}

func (c Config) needsSQL(withContent bool) bool {
	return c.StoreBackend == StoreSQL || (withContent && c.Subscription.Source == subscription.SourceDatabase)
}

func (c Config) needsMongo(withContent bool) bool {
	return c.StoreBackend == StoreMongo || (withContent && c.CatalogSource == CatalogMongo)
}

// New connects the configured backends and builds all services.
func New(ctx context.Context, cfg Config, logger *zap.SugaredLogger) (*App, error) {
	return build(ctx, cfg, logger, true)
}

// NewAccounts builds only the account service and opens only what it needs.
func NewAccounts(ctx context.Context, cfg Config, logger *zap.SugaredLogger) (*App, error) {
	return build(ctx, cfg, logger, false)
}

func build(ctx context.Context, cfg Config, logger *zap.SugaredLogger, withContent bool) (*App, error) {
	a := &App{Policy: cfg.Policy, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if cfg.needsSQL(withContent) {
		db, err := database.Connect(cfg.Database)
		if err != nil {
			return nil, err
		}
		a.sqlDB = db
	}
	var mdb *mongo.Database
	if cfg.needsMongo(withContent) {
		client, err := database.ConnectMongo(cfg.Mongo)
		if err != nil {
			return nil, err
		}
		a.mongo = client
		mdb = client.Database(cfg.Mongo.Database)
	}

	store, err := a.accountStore(ctx, cfg, mdb)
	if err != nil {
		return nil, err
	}
	a.Accounts = account.NewService(store, nil, cfg.Policy, logger)
	if !withContent {
		ok = true
		return a, nil
	}

	var catalog content.Catalog
	switch cfg.CatalogSource {
	case CatalogMongo:
		catalog = contentrepo.NewMongoCatalog(mdb)
	case CatalogFile:
		fc, err := contentrepo.LoadFileCatalog(cfg.CatalogFile)
		if err != nil {
			return nil, err
		}
		catalog = fc
	default:
		return nil, fmt.Errorf("unknown catalog source %q", cfg.CatalogSource)
	}

	var sr *subrepo.SubscriptionRepo
	if a.sqlDB != nil {
		sr = subrepo.NewSubscriptionRepo(a.sqlDB)
		if err := sr.EnsureTable(ctx); err != nil {
			return nil, fmt.Errorf("ensure subscriptions table: %w", err)
		}
	}
	subs, err := subscription.New(cfg.Subscription, sr, logger)
	if err != nil {
		return nil, err
	}
	g, err := geo.New(cfg.Geo)
	if err != nil {
		return nil, err
	}
	a.Content = content.NewService(catalog, subs, g, logger)

	ok = true
	return a, nil
}

func (a *App) accountStore(ctx context.Context, cfg Config, mdb *mongo.Database) (account.Store, error) {
	switch cfg.StoreBackend {
	case StoreSQL:
		s := accountrepo.NewSQLStore(a.sqlDB)
		if err := s.EnsureTables(ctx); err != nil {
			return nil, fmt.Errorf("ensure account tables: %w", err)
		}
		return s, nil
	case StoreMongo:
		s := accountrepo.NewMongoStore(mdb)
		if err := s.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("ensure account indexes: %w", err)
		}
		return s, nil
	case StoreMemory:
		a.logger.Warn("account store is in memory; state is lost on restart")
		return accountrepo.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// Ping checks the opened connections.
func (a *App) Ping(ctx context.Context) error {
	if a.sqlDB != nil {
		if err := a.sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("db: %w", err)
		}
	}
	if a.mongo != nil {
		if err := a.mongo.Ping(ctx, nil); err != nil {
			return fmt.Errorf("mongo: %w", err)
		}
	}
	return nil
}

func (a *App) Close() {
	if a.sqlDB != nil {
		_ = a.sqlDB.Close()
	}
	if a.mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.mongo.Disconnect(ctx)
	}
}
