package sql

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mysqlops/mysqlbackup/pkg/binlog"
	"github.com/mysqlops/mysqlbackup/pkg/topology"
)

type Opts struct {
	Username string
	Password string
	Host     string
	Port     int
	Database string

	TLSName             string
	TLSCACert           []byte
	TLSClientCert       []byte
	TLSClientPrivateKey []byte

	Timeout *time.Duration
}

type Opt func(*Opts)

func WithUsername(username string) Opt {
	return func(o *Opts) {
		o.Username = username
	}
}

func WithPassword(password string) Opt {
	return func(o *Opts) {
		o.Password = password
	}
}

func WithInstance(instance topology.Instance) Opt {
	return func(o *Opts) {
		o.Host = instance.Hostname
		o.Port = instance.Port
	}
}

// WithTLS registers the CA under name, which must be unique per CA bundle.
func WithTLS(name string, tlsCaCert []byte) Opt {
	return func(o *Opts) {
		o.TLSName = name
		o.TLSCACert = tlsCaCert
	}
}

func WithTLSClientCert(cert, privateKey []byte) Opt {
	return func(o *Opts) {
		o.TLSClientCert = cert
		o.TLSClientPrivateKey = privateKey
	}
}

func WithTimeout(d time.Duration) Opt {
	return func(o *Opts) {
		o.Timeout = &d
	}
}

type Client struct {
	db *sql.DB
}

func NewClient(ctx context.Context, clientOpts ...Opt) (*Client, error) {
	opts := Opts{}
	for _, setOpt := range clientOpts {
		setOpt(&opts)
	}
	dsn, err := BuildDSN(opts)
	if err != nil {
		return nil, fmt.Errorf("error building DSN: %v", err)
	}
	db, err := Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Client{
		db: db,
	}, nil
}

func BuildDSN(opts Opts) (string, error) {
	if opts.Host == "" || opts.Port == 0 {
		return "", errors.New("invalid opts: host and port are mandatory")
	}
	config := mysql.NewConfig()
	config.Net = "tcp"
	config.Addr = topology.Instance{Hostname: opts.Host, Port: opts.Port}.String()
	config.ParseTime = true

	if opts.Timeout != nil {
		config.Timeout = *opts.Timeout
	} else {
		config.Timeout = 5 * time.Second
	}
	if opts.Username != "" {
		config.User = opts.Username
	}
	if opts.Password != "" {
		config.Passwd = opts.Password
	}
	if opts.Database != "" {
		config.DBName = opts.Database
	}
	if opts.TLSName != "" && opts.TLSCACert != nil {
		if err := configureTLS(opts); err != nil {
			return "", fmt.Errorf("error configuring TLS: %v", err)
		}
		config.TLSConfig = opts.TLSName
	}
	return config.FormatDSN(), nil
}

func configureTLS(opts Opts) error {
	var tlsCfg tls.Config

	caBundle := x509.NewCertPool()
	if ok := caBundle.AppendCertsFromPEM(opts.TLSCACert); ok {
		tlsCfg.RootCAs = caBundle
	} else {
		return errors.New("failed parse pem-encoded CA certificates")
	}

	if opts.TLSClientCert != nil && opts.TLSClientPrivateKey != nil {
		keyPair, err := tls.X509KeyPair(opts.TLSClientCert, opts.TLSClientPrivateKey)
		if err != nil {
			return fmt.Errorf("error parsing client keypair: %v", err)
		}
		tlsCfg.Certificates = []tls.Certificate{keyPair}
	}

	if err := mysql.RegisterTLSConfig(opts.TLSName, &tlsCfg); err != nil {
		return fmt.Errorf("error registering TLS config \"%s\": %v", opts.TLSName, err)
	}
	return nil
}

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := c.db.ExecContext(ctx, sql, args...)
	return err
}

// ExecInsert executes an insert and returns the id generated for the row.
func (c *Client) ExecInsert(ctx context.Context, sql string, args ...any) (int64, error) {
	result, err := c.db.ExecContext(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("error getting last insert id: %v", err)
	}
	return id, nil
}

// QueryStrings returns the first column of every row.
func (c *Client) QueryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var val sql.NullString
		if err := rows.Scan(&val); err != nil {
			return nil, err
		}
		if val.Valid {
			results = append(results, val.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) StartSlave(ctx context.Context) error {
	return c.Exec(ctx, "START SLAVE;")
}

func (c *Client) StopSlave(ctx context.Context) error {
	return c.Exec(ctx, "STOP SLAVE;")
}

func (c *Client) ResetSlave(ctx context.Context) error {
	return c.Exec(ctx, "RESET SLAVE ALL;")
}

type ChangeMasterOpts struct {
	Host       string
	Port       int
	User       string
	Password   string
	Coordinate binlog.Coordinate
	Retries    int

	SSLEnabled  bool
	SSLCertPath string
	SSLKeyPath  string
	SSLCAPath   string
}

type ChangeMasterOpt func(*ChangeMasterOpts)

func WithChangeMasterSource(source topology.Instance) ChangeMasterOpt {
	return func(cmo *ChangeMasterOpts) {
		cmo.Host = source.Hostname
		cmo.Port = source.Port
	}
}

func WithChangeMasterCredentials(user, password string) ChangeMasterOpt {
	return func(cmo *ChangeMasterOpts) {
		cmo.User = user
		cmo.Password = password
	}
}

func WithChangeMasterCoordinate(coordinate binlog.Coordinate) ChangeMasterOpt {
	return func(cmo *ChangeMasterOpts) {
		cmo.Coordinate = coordinate
	}
}

func WithChangeMasterRetries(retries int) ChangeMasterOpt {
	return func(cmo *ChangeMasterOpts) {
		cmo.Retries = retries
	}
}

func WithChangeMasterSSL(certPath, keyPath, caPath string) ChangeMasterOpt {
	return func(cmo *ChangeMasterOpts) {
		cmo.SSLEnabled = true
		cmo.SSLCertPath = certPath
		cmo.SSLKeyPath = keyPath
		cmo.SSLCAPath = caPath
	}
}

// ChangeMasterTo points the instance to the given source at the coordinate a backup was taken.
func (c *Client) ChangeMasterTo(ctx context.Context, changeMasterOpts ...ChangeMasterOpt) error {
	query, err := buildChangeMasterQuery(changeMasterOpts...)
	if err != nil {
		return fmt.Errorf("error building CHANGE MASTER query: %v", err)
	}
	return c.Exec(ctx, query)
}

func buildChangeMasterQuery(changeMasterOpts ...ChangeMasterOpt) (string, error) {
	opts := ChangeMasterOpts{
		Port: topology.DefaultPort,
	}
	for _, setOpt := range changeMasterOpts {
		setOpt(&opts)
	}
	if opts.Host == "" {
		return "", errors.New("host must be provided")
	}
	if opts.User == "" || opts.Password == "" {
		return "", errors.New("credentials must be provided")
	}
	if opts.Coordinate.Name == "" {
		return "", errors.New("binlog coordinate must be provided")
	}
	if opts.SSLEnabled && (opts.SSLCertPath == "" || opts.SSLKeyPath == "" || opts.SSLCAPath == "") {
		return "", errors.New("all SSL paths must be provided when SSL is enabled")
	}
	for _, v := range []string{opts.Host, opts.User, opts.Password, opts.Coordinate.Name} {
		if strings.ContainsAny(v, `'\`) {
			return "", fmt.Errorf("invalid character in \"%s\"", v)
		}
	}

	tpl := createTpl("change-master.sql", `CHANGE MASTER TO
MASTER_HOST='{{ .Host }}',
MASTER_PORT={{ .Port }},
MASTER_USER='{{ .User }}',
MASTER_PASSWORD='{{ .Password }}',
MASTER_LOG_FILE='{{ .Coordinate.Name }}',
MASTER_LOG_POS={{ .Coordinate.Pos }}
{{- with .Retries }},
MASTER_CONNECT_RETRY={{ . }}
{{- end }}
{{- if .SSLEnabled }},
MASTER_SSL=1,
MASTER_SSL_CERT='{{ .SSLCertPath }}',
MASTER_SSL_KEY='{{ .SSLKeyPath }}',
MASTER_SSL_CA='{{ .SSLCAPath }}',
MASTER_SSL_VERIFY_SERVER_CERT=1
{{- end }};
`)
	buf := new(bytes.Buffer)
	err := tpl.Execute(buf, opts)
	if err != nil {
		return "", fmt.Errorf("error rendering CHANGE MASTER template: %v", err)
	}
	return buf.String(), nil
}

func createTpl(name, t string) *template.Template {
	return template.Must(template.New(name).Parse(t))
}
