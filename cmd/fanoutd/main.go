// Command fanoutd serves the module event bus: the HTTP dispatch endpoint,
// the pending-event sweeper, prometheus metrics, and optional delivery log
// archival. Configuration is via environment variables:
//
//	FANOUT_MYSQL_DSN        mysql dsn, ex. "user:pass@tcp(localhost:3306)/erp?parseTime=true"
//	FANOUT_ADDR             listen address (default ":8090")
//	FANOUT_JWT_SECRET       HMAC secret for bearer tokens
//	FANOUT_INTERNAL_SECRET  shared secret for system-to-system calls
//	FANOUT_STOCK_URL        base url of the stock collaborator
//	FANOUT_NOTIFY_URL       base url of the notification collaborator
//	FANOUT_SWEEP_BACKOFF    sweeper poll backoff (default "30s")
//	FANOUT_MIGRATIONS       migrations dir (default "migrations")
//	FANOUT_ARCHIVE_BUCKET   optional gocloud bucket url for log archival
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "gocloud.dev/blob/fileblob"

	"github.com/ledgerlane/fanout"
	"github.com/ledgerlane/fanout/clients"
	"github.com/ledgerlane/fanout/fblob"
	"github.com/ledgerlane/fanout/fsql"
	"github.com/ledgerlane/fanout/handlers"
	"github.com/ledgerlane/fanout/server"
)

type config struct {
	MySQLDSN       string
	Addr           string
	JWTSecret      string
	InternalSecret string
	StockURL       string
	NotifyURL      string
	SweepBackoff   time.Duration
	MigrationsDir  string
	ArchiveBucket  string
}

func configFromEnv() (config, error) {
	c := config{
		MySQLDSN:       os.Getenv("FANOUT_MYSQL_DSN"),
		Addr:           getenv("FANOUT_ADDR", ":8090"),
		JWTSecret:      os.Getenv("FANOUT_JWT_SECRET"),
		InternalSecret: os.Getenv("FANOUT_INTERNAL_SECRET"),
		StockURL:       os.Getenv("FANOUT_STOCK_URL"),
		NotifyURL:      os.Getenv("FANOUT_NOTIFY_URL"),
		MigrationsDir:  getenv("FANOUT_MIGRATIONS", "migrations"),
		ArchiveBucket:  os.Getenv("FANOUT_ARCHIVE_BUCKET"),
	}
	if c.MySQLDSN == "" {
		return c, errors.New("FANOUT_MYSQL_DSN is required")
	}
	if c.InternalSecret == "" && c.JWTSecret == "" {
		return c, errors.New("FANOUT_JWT_SECRET or FANOUT_INTERNAL_SECRET is required")
	}

	backoff, err := time.ParseDuration(getenv("FANOUT_SWEEP_BACKOFF", "30s"))
	if err != nil {
		return c, errors.Wrap(err, "invalid FANOUT_SWEEP_BACKOFF")
	}
	c.SweepBackoff = backoff

	return c, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error(ctx, errors.Wrap(err, "fanoutd exited"))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	c, err := configFromEnv()
	if err != nil {
		return err
	}

	if err := migrateUp(c); err != nil {
		return err
	}

	dbc, err := sql.Open("mysql", c.MySQLDSN)
	if err != nil {
		return errors.Wrap(err, "open db error")
	}
	defer dbc.Close()

	events := fsql.NewEventsTable(fsql.WithEventsTraceField("trace"))
	subs := fsql.NewSubscriptionsTable()
	dlog := fsql.NewDeliveryLogTable()

	registry := handlers.NewRegistry()
	handlers.NewInventory(clients.NewStockClient(c.StockURL, c.InternalSecret)).Register(registry)
	handlers.NewNotifications(clients.NewNotifyClient(c.NotifyURL, c.InternalSecret)).Register(registry)
	handlers.RegisterStubs(registry)

	eventStore := events.ToStore(dbc)
	dispatcher := fanout.NewDispatcher(eventStore, subs.ToStore(dbc),
		dlog.ToLog(dbc), registry)

	sweeper := fanout.NewSweeper(eventStore, dispatcher,
		fanout.WithSweepBackoff(c.SweepBackoff))
	go func() {
		err := sweeper.Run(ctx)
		log.Info(ctx, "sweeper stopped", j.KV("error", err.Error()))
	}()

	if c.ArchiveBucket != "" {
		archiver, err := fblob.NewArchiver(ctx, c.ArchiveBucket)
		if err != nil {
			return err
		}
		defer archiver.Close()
		go archiveForever(ctx, archiver, dlog, dbc)
	}

	srv := server.New(dispatcher,
		server.NewAuthenticator([]byte(c.JWTSecret), c.InternalSecret))

	mux := http.NewServeMux()
	mux.Handle("/", srv.Router())
	mux.Handle("/metrics", promhttp.Handler())

	hs := &http.Server{Addr: c.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}()

	log.Info(ctx, "fanoutd listening", j.KV("addr", c.Addr))
	if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve error")
	}
	return ctx.Err()
}

func migrateUp(c config) error {
	m, err := migrate.New("file://"+c.MigrationsDir, "mysql://"+c.MySQLDSN)
	if err != nil {
		return errors.Wrap(err, "migrate init error")
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "migrate up error")
	}
	return nil
}

const archiveInterval = time.Hour
const archiveBatchLimit = 10000

// archiveForever periodically exports new delivery log rows to the archive
// bucket. Archival is best effort; failures are logged and retried on the
// next tick.
func archiveForever(ctx context.Context, a *fblob.Archiver,
	dlog *fsql.DeliveryLogTable, dbc *sql.DB,
) {
	last := time.Now()
	ticker := time.NewTicker(archiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		since := last
		last = time.Now()

		entries, err := dlog.ListEntriesSince(ctx, dbc, since, archiveBatchLimit)
		if err != nil {
			log.Error(ctx, errors.Wrap(err, "archive list error"))
			continue
		}

		key, err := a.Archive(ctx, entries)
		if err != nil {
			log.Error(ctx, errors.Wrap(err, "archive write error"))
			continue
		}
		if key != "" {
			log.Info(ctx, "archived delivery logs", j.MKV{
				"key": key, "count": len(entries),
			})
		}
	}
}
