package command

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
)

const (
	DefaultParallel          = 8
	DefaultCompressThreads   = 8
	DefaultDecompressThreads = 8
	DefaultPigzThreads       = 8
	DefaultApplyLogMemoryGB  = 10
	DefaultDefaultsFile      = "/etc/mysql/my.cnf"
	killLongQueriesTimeout   = 10
)

// Tools holds the paths of the external binaries driven by the backup pipelines.
type Tools struct {
	Mysqldump    string `mapstructure:"mysqldump"`
	Innobackupex string `mapstructure:"innobackupex"`
	Xbstream     string `mapstructure:"xbstream"`
	Pigz         string `mapstructure:"pigz"`
	Pv           string `mapstructure:"pv"`
	S3Transfer   string `mapstructure:"s3Transfer"`
}

func DefaultTools() Tools {
	return Tools{
		Mysqldump:    "/usr/bin/mysqldump",
		Innobackupex: "/usr/bin/innobackupex",
		Xbstream:     "/usr/bin/xbstream",
		Pigz:         "/usr/bin/pigz",
		Pv:           "/usr/bin/pv",
		S3Transfer:   "/usr/local/bin/gof3r",
	}
}

func (t Tools) Validate() error {
	paths := map[string]string{
		"mysqldump":    t.Mysqldump,
		"innobackupex": t.Innobackupex,
		"xbstream":     t.Xbstream,
		"pigz":         t.Pigz,
		"pv":           t.Pv,
		"s3Transfer":   t.S3Transfer,
	}
	for name, path := range paths {
		if path == "" {
			return fmt.Errorf("path to %s not provided", name)
		}
	}
	return nil
}

type Builder struct {
	tools Tools
}

func NewBuilder(tools Tools) (*Builder, error) {
	if err := tools.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tools: %v", err)
	}
	return &Builder{tools: tools}, nil
}

func (b *Builder) MysqlDump(opts ConnectionOpts) (*Command, error) {
	flags, err := ConnectionFlags(&opts)
	if err != nil {
		return nil, fmt.Errorf("invalid mysqldump connection: %v", err)
	}
	args := []string{
		"--master-data",
		"--single-transaction",
		"--events",
		"--all-databases",
		"--routines",
	}
	return NewCommand([]string{b.tools.Mysqldump}, append(args, flags...)), nil
}

type XtrabackupOpts struct {
	ConnectionOpts
	DefaultsFile    string
	DataDir         string
	Parallel        int
	CompressThreads int
}

func (b *Builder) Xtrabackup(opts XtrabackupOpts) (*Command, error) {
	if err := opts.validate(false); err != nil {
		return nil, fmt.Errorf("invalid xtrabackup connection: %v", err)
	}
	if opts.DataDir == "" {
		return nil, errors.New("data directory not provided")
	}
	if opts.DefaultsFile == "" {
		opts.DefaultsFile = DefaultDefaultsFile
	}
	if opts.Parallel <= 0 {
		opts.Parallel = DefaultParallel
	}
	if opts.CompressThreads <= 0 {
		opts.CompressThreads = DefaultCompressThreads
	}
	args := []string{
		fmt.Sprintf("--defaults-file=%s", opts.DefaultsFile),
		fmt.Sprintf("--defaults-group=mysqld%d", opts.Port),
		"--slave-info",
		"--safe-slave-backup",
		fmt.Sprintf("--parallel=%d", opts.Parallel),
		"--stream=xbstream",
		"--no-timestamp",
		"--compress",
		fmt.Sprintf("--compress-threads=%d", opts.CompressThreads),
		fmt.Sprintf("--kill-long-queries-timeout=%d", killLongQueriesTimeout),
		fmt.Sprintf("--user=%s", opts.User),
		fmt.Sprintf("--password=%s", opts.Password),
		fmt.Sprintf("--port=%d", opts.Port),
		opts.DataDir,
	}
	return NewCommand([]string{b.tools.Innobackupex}, args), nil
}

func (b *Builder) Pigz(threads int) *Command {
	if threads <= 0 {
		threads = DefaultPigzThreads
	}
	return NewCommand([]string{b.tools.Pigz}, []string{"-p", strconv.Itoa(threads)})
}

// Pv builds a progress meter. A positive size enables the percentage and ETA.
func (b *Builder) Pv(size int64) *Command {
	args := []string{"-peafbt"}
	if size > 0 {
		args = append(args, "--size", strconv.FormatInt(size, 10))
	}
	return NewCommand([]string{b.tools.Pv}, args)
}

func (b *Builder) Xbstream(dataDir string) (*Command, error) {
	if dataDir == "" {
		return nil, errors.New("data directory not provided")
	}
	return NewCommand([]string{b.tools.Xbstream}, []string{"--extract", fmt.Sprintf("--directory=%s", dataDir)}), nil
}

type S3Opts struct {
	Bucket   string
	Key      string
	Endpoint string
}

func (o *S3Opts) args() ([]string, error) {
	if o.Bucket == "" {
		return nil, errors.New("bucket not provided")
	}
	if o.Key == "" {
		return nil, errors.New("key not provided")
	}
	var args []string
	if o.Endpoint != "" {
		args = append(args, fmt.Sprintf("--endpoint=%s", o.Endpoint))
	}
	return args, nil
}

// S3Upload streams standard input into bucket/key.
func (b *Builder) S3Upload(opts S3Opts) (*Command, error) {
	args, err := opts.args()
	if err != nil {
		return nil, fmt.Errorf("invalid S3 upload: %v", err)
	}
	args = append([]string{"put"}, args...)
	args = append(args, "-b", opts.Bucket, "-k", opts.Key)
	return NewCommand([]string{b.tools.S3Transfer}, args), nil
}

// S3Download streams bucket/key to standard output. The key is query escaped as the transfer tool expects.
func (b *Builder) S3Download(opts S3Opts) (*Command, error) {
	args, err := opts.args()
	if err != nil {
		return nil, fmt.Errorf("invalid S3 download: %v", err)
	}
	args = append([]string{"get"}, args...)
	args = append(args, "-b", opts.Bucket, "-k", url.QueryEscape(opts.Key))
	return NewCommand([]string{b.tools.S3Transfer}, args), nil
}

func (b *Builder) InnobackupDecompress(threads int, dataDir string) (*Command, error) {
	if dataDir == "" {
		return nil, errors.New("data directory not provided")
	}
	if threads <= 0 {
		threads = DefaultDecompressThreads
	}
	args := []string{
		fmt.Sprintf("--parallel=%d", threads),
		"--decompress",
		filepath.Clean(dataDir),
	}
	return NewCommand([]string{b.tools.Innobackupex}, args), nil
}

func (b *Builder) InnobackupApplyLog(memoryGB int, dataDir string) (*Command, error) {
	if dataDir == "" {
		return nil, errors.New("data directory not provided")
	}
	if memoryGB <= 0 {
		memoryGB = DefaultApplyLogMemoryGB
	}
	args := []string{
		"--apply-log",
		fmt.Sprintf("--use-memory=%dG", memoryGB),
		filepath.Clean(dataDir),
	}
	return NewCommand([]string{b.tools.Innobackupex}, args), nil
}
