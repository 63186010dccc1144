package fsql_test

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/luno/jettison/jtest"
)

var dbTestURI = flag.String("db_test_uri", getDefaultURI(), "Test database uri")

var testSchemas = []string{
	`create table module_events (
  id varchar(36) not null,
  tenant_id varchar(36) not null,
  event_type varchar(255) not null,
  entity_id varchar(255) not null,
  payload json null,
  status tinyint not null default 1,
  retry_count int not null default 0,
  max_retries int not null default 3,
  processed_at datetime(6) null,
  error_message text null,
  created_at datetime(6) not null,
  trace blob null,

  primary key (id),
  key by_status_created (status, created_at),
  key by_tenant_created (tenant_id, created_at)
);`,
	`create table module_event_subscriptions (
  id varchar(36) not null,
  event_type_pattern varchar(255) not null,
  handler_module varchar(255) not null,
  is_active bool not null default true,

  primary key (id),
  key by_pattern_active (event_type_pattern, is_active)
);`,
	`create table module_event_logs (
  id bigint not null auto_increment,
  event_id varchar(36) not null,
  subscription_id varchar(36) not null,
  tenant_id varchar(36) not null,
  status tinyint not null,
  response_or_error text null,
  created_at datetime(6) not null,

  primary key (id),
  key by_event (event_id),
  key by_created (created_at)
);`,
}

// ConnectTestDB returns a connection to a fresh database with the fanout
// tables created, dropped again on test cleanup.
func ConnectTestDB(t *testing.T) *sql.DB {
	admin, err := sql.Open("mysql", *dbTestURI)
	jtest.RequireNil(t, err)

	dbName := fmt.Sprintf("test_%d", rand.Int())
	_, err = admin.ExecContext(context.Background(), "create database "+dbName)
	jtest.RequireNil(t, err)

	t.Log("created database: " + dbName)

	t.Cleanup(func() {
		_, err := admin.ExecContext(context.Background(), "drop database "+dbName)
		jtest.RequireNil(t, err)
		err = admin.Close()
		jtest.RequireNil(t, err)
	})

	str := *dbTestURI + dbName + "?parseTime=true&collation=utf8mb4_general_ci"
	dbc, err := sql.Open("mysql", str)
	jtest.RequireNil(t, err)

	t.Cleanup(func() {
		err := dbc.Close()
		jtest.RequireNil(t, err)
	})

	for _, schema := range testSchemas {
		_, err = dbc.Exec(schema)
		jtest.RequireNil(t, err)
	}

	dbc.SetMaxOpenConns(10)
	_, err = dbc.Exec("set time_zone='+00:00';")
	jtest.RequireNil(t, err)

	return dbc
}

func getDefaultURI() string {
	uri := os.Getenv("DB_TEST_URI")
	if uri != "" {
		return uri
	}

	return "root@unix(" + getSocketFile() + ")/"
}

func getSocketFile() string {
	sock := "/tmp/mysql.sock"
	if _, err := os.Stat(sock); os.IsNotExist(err) {
		// try common linux/Ubuntu socket file location
		return "/var/run/mysqld/mysqld.sock"
	}
	return sock
}
