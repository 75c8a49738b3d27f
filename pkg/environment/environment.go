package environment

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

type Role string

const (
	RoleMysqldump   Role = "mysqldump"
	RoleXtrabackup  Role = "xtrabackup"
	RoleAdmin       Role = "admin"
	RoleReplication Role = "replication"
)

type Credentials struct {
	User     string
	Password string
}

// Env holds the secrets that are never read from the config file.
type Env struct {
	S3AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`
	S3SSECCustomerKey string `env:"S3_SSEC_CUSTOMER_KEY"`

	MysqldumpUser       string `env:"MYSQLBACKUP_MYSQLDUMP_USER, default=mysqldump"`
	MysqldumpPassword   string `env:"MYSQLBACKUP_MYSQLDUMP_PASSWORD"`
	XtrabackupUser      string `env:"MYSQLBACKUP_XTRABACKUP_USER, default=xtrabackup"`
	XtrabackupPassword  string `env:"MYSQLBACKUP_XTRABACKUP_PASSWORD"`
	AdminUser           string `env:"MYSQLBACKUP_ADMIN_USER, default=admin"`
	AdminPassword       string `env:"MYSQLBACKUP_ADMIN_PASSWORD"`
	ReplicationUser     string `env:"MYSQLBACKUP_REPLICATION_USER, default=replicant"`
	ReplicationPassword string `env:"MYSQLBACKUP_REPLICATION_PASSWORD"`

	HTTPUser     string `env:"MYSQLBACKUP_HTTP_USER"`
	HTTPPassword string `env:"MYSQLBACKUP_HTTP_PASSWORD"`
}

func GetEnv(ctx context.Context) (*Env, error) {
	var env Env
	if err := envconfig.Process(ctx, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Credentials returns the MySQL user for a role. A missing password is an error.
func (e *Env) Credentials(role Role) (Credentials, error) {
	var creds Credentials
	switch role {
	case RoleMysqldump:
		creds = Credentials{User: e.MysqldumpUser, Password: e.MysqldumpPassword}
	case RoleXtrabackup:
		creds = Credentials{User: e.XtrabackupUser, Password: e.XtrabackupPassword}
	case RoleAdmin:
		creds = Credentials{User: e.AdminUser, Password: e.AdminPassword}
	case RoleReplication:
		creds = Credentials{User: e.ReplicationUser, Password: e.ReplicationPassword}
	default:
		return Credentials{}, fmt.Errorf("unknown role \"%s\"", role)
	}
	if creds.User == "" || creds.Password == "" {
		return Credentials{}, fmt.Errorf("credentials for role \"%s\" are not set", role)
	}
	return creds, nil
}

func (e *Env) S3Credentials() (accessKeyID string, secretAccessKey string, err error) {
	if e.S3AccessKeyID == "" {
		return "", "", fmt.Errorf("S3_ACCESS_KEY_ID must be set in order to authenticate with S3")
	}
	if e.S3SecretAccessKey == "" {
		return "", "", fmt.Errorf("S3_SECRET_ACCESS_KEY must be set in order to authenticate with S3")
	}
	return e.S3AccessKeyID, e.S3SecretAccessKey, nil
}

// HTTPBasicAuth reports whether the HTTP endpoints require basic auth, which is the case when both variables are set.
func (e *Env) HTTPBasicAuth() bool {
	return e.HTTPUser != "" && e.HTTPPassword != ""
}
