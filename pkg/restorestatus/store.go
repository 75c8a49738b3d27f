package restorestatus

import (
	"context"
	"fmt"
	"strings"

	"github.com/mysqlops/mysqlbackup/pkg/environment"
	"github.com/mysqlops/mysqlbackup/pkg/sql"
	"github.com/mysqlops/mysqlbackup/pkg/topology"
)

const (
	table = "test.xb_restore_status"

	createTableSql = "CREATE TABLE IF NOT EXISTS " + table + " (" +
		"id                INT UNSIGNED NOT NULL AUTO_INCREMENT, " +
		"restore_source    VARCHAR(64), " +
		"restore_type      ENUM('s3', 'remote_server', " +
		"                       'local_file') NOT NULL, " +
		"test_restore      ENUM('normal', 'test') NOT NULL, " +
		"restore_destination   VARCHAR(64), " +
		"restore_date      DATE, " +
		"restore_port      SMALLINT UNSIGNED NOT NULL " +
		"                  DEFAULT 3306, " +
		"restore_file      VARCHAR(255), " +
		"replication       ENUM('SKIP', 'REQ', 'OK', 'FAIL'), " +
		"zookeeper         ENUM('SKIP', 'REQ', 'OK', 'FAIL'), " +
		"started_at        DATETIME NOT NULL, " +
		"finished_at       DATETIME, " +
		"restore_status    ENUM('OK', 'IPR', 'BAD') " +
		"                  DEFAULT 'IPR', " +
		"status_message    TEXT, " +
		"PRIMARY KEY(id), " +
		"INDEX (restore_type, started_at), " +
		"INDEX (restore_type, restore_status, " +
		"       started_at) )"

	recentRestoreFilesSql = "SELECT restore_file " +
		"FROM " + table + " " +
		"WHERE restore_status='OK' " +
		"ORDER BY finished_at DESC " +
		"LIMIT ?"
)

// Store persists restore status rows on a control instance.
type Store interface {
	EnsureTable(ctx context.Context) error
	Insert(ctx context.Context, params StartParams) (RestoreID, error)
	Update(ctx context.Context, id RestoreID, params UpdateParams) error
	RecentRestoreFiles(ctx context.Context, limit int) ([]string, error)
	Close() error
}

// Connector opens a Store on an instance.
type Connector interface {
	Connect(ctx context.Context, instance topology.Instance) (Store, error)
}

// CredentialsProvider returns the MySQL credentials of a role.
type CredentialsProvider interface {
	Credentials(role environment.Role) (environment.Credentials, error)
}

// SqlConnector connects to the status table through MySQL using the admin credentials.
type SqlConnector struct {
	credentials CredentialsProvider
	opts        []sql.Opt
}

func NewSqlConnector(credentials CredentialsProvider, opts ...sql.Opt) *SqlConnector {
	return &SqlConnector{
		credentials: credentials,
		opts:        opts,
	}
}

// Connect resolves the admin credentials on every call, so missing credentials only fail the connection.
func (c *SqlConnector) Connect(ctx context.Context, instance topology.Instance) (Store, error) {
	admin, err := c.credentials.Credentials(environment.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("error getting credentials for %s: %v", instance, err)
	}
	opts := []sql.Opt{
		sql.WithUsername(admin.User),
		sql.WithPassword(admin.Password),
		sql.WithInstance(instance),
	}
	client, err := sql.NewClient(ctx, append(opts, c.opts...)...)
	if err != nil {
		return nil, fmt.Errorf("error connecting to %s: %v", instance, err)
	}
	return &sqlStore{client: client}, nil
}

type sqlStore struct {
	client *sql.Client
}

func (s *sqlStore) EnsureTable(ctx context.Context) error {
	return s.client.Exec(ctx, createTableSql)
}

func (s *sqlStore) Insert(ctx context.Context, params StartParams) (RestoreID, error) {
	query, args := buildInsertQuery(params)
	id, err := s.client.ExecInsert(ctx, query, args...)
	if err != nil {
		return NoRestoreID, err
	}
	return RestoreID(id), nil
}

func (s *sqlStore) Update(ctx context.Context, id RestoreID, params UpdateParams) error {
	query, args := buildUpdateQuery(id, params)
	return s.client.Exec(ctx, query, args...)
}

func (s *sqlStore) RecentRestoreFiles(ctx context.Context, limit int) ([]string, error) {
	return s.client.QueryStrings(ctx, recentRestoreFilesSql, limit)
}

func (s *sqlStore) Close() error {
	return s.client.Close()
}

func buildInsertQuery(params StartParams) (string, []any) {
	restoreType := params.RestoreType
	if restoreType == "" {
		restoreType = RestoreTypeObjectStore
	}
	testRestore := params.TestRestore
	if testRestore == "" {
		testRestore = TestRestoreNormal
	}

	fields := []string{"restore_type = ?", "test_restore = ?"}
	args := []any{string(restoreType), string(testRestore)}
	add := func(field string, value any) {
		fields = append(fields, field+" = ?")
		args = append(args, value)
	}
	if params.RestoreSource != nil {
		add("restore_source", *params.RestoreSource)
	}
	if params.RestoreFile != nil {
		add("restore_file", *params.RestoreFile)
	}
	if params.RestoreDestination != nil {
		add("restore_destination", *params.RestoreDestination)
	}
	if params.RestoreDate != nil {
		add("restore_date", params.RestoreDate.Format("2006-01-02"))
	}
	if params.RestorePort != nil {
		add("restore_port", *params.RestorePort)
	}
	if params.Replication != nil {
		add("replication", string(*params.Replication))
	}
	if params.Zookeeper != nil {
		add("zookeeper", string(*params.Zookeeper))
	}
	fields = append(fields, "started_at = NOW()")

	return fmt.Sprintf("REPLACE INTO %s SET %s", table, strings.Join(fields, ", ")), args
}

func buildUpdateQuery(id RestoreID, params UpdateParams) (string, []any) {
	var (
		fields []string
		args   []any
	)
	if params.finished() {
		fields = append(fields, "finished_at = NOW()")
	}
	if params.Status != nil {
		fields = append(fields, "restore_status = ?")
		args = append(args, string(*params.Status))
	}
	if params.StatusMessage != nil {
		fields = append(fields, "status_message = ?")
		args = append(args, *params.StatusMessage)
	}
	if params.Replication != nil {
		fields = append(fields, "replication = ?")
		args = append(args, string(*params.Replication))
	}
	if params.Zookeeper != nil {
		fields = append(fields, "zookeeper = ?")
		args = append(args, string(*params.Zookeeper))
	}
	args = append(args, int64(id))

	return fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(fields, ", ")), args
}
