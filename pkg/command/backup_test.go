package command

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewBuilder(t *testing.T) {
	tools := DefaultTools()
	tools.Pv = ""
	if _, err := NewBuilder(tools); err == nil {
		t.Error("expect error to have occurred, got nil")
	}
	if _, err := NewBuilder(DefaultTools()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBuilder(t *testing.T) {
	builder, err := NewBuilder(DefaultTools())
	if err != nil {
		t.Fatalf("unexpected error creating builder: %v", err)
	}
	conn := ConnectionOpts{User: "backup", Password: "secret", Host: "db-1", Port: 3306}

	tests := []struct {
		name     string
		buildFn  func() (*Command, error)
		wantArgv []string
		wantErr  bool
	}{
		{
			name: "mysqldump",
			buildFn: func() (*Command, error) {
				return builder.MysqlDump(conn)
			},
			wantArgv: []string{
				"/usr/bin/mysqldump",
				"--master-data",
				"--single-transaction",
				"--events",
				"--all-databases",
				"--routines",
				"--user=backup",
				"--password=secret",
				"--host=db-1",
				"--port=3306",
			},
		},
		{
			name: "mysqldump without password",
			buildFn: func() (*Command, error) {
				return builder.MysqlDump(ConnectionOpts{User: "backup", Host: "db-1", Port: 3306})
			},
			wantErr: true,
		},
		{
			name: "xtrabackup",
			buildFn: func() (*Command, error) {
				return builder.Xtrabackup(XtrabackupOpts{
					ConnectionOpts: ConnectionOpts{User: "xtra", Password: "secret", Port: 3307},
					DataDir:        "/raid0/mysql/3307/data",
				})
			},
			wantArgv: []string{
				"/usr/bin/innobackupex",
				"--defaults-file=/etc/mysql/my.cnf",
				"--defaults-group=mysqld3307",
				"--slave-info",
				"--safe-slave-backup",
				"--parallel=8",
				"--stream=xbstream",
				"--no-timestamp",
				"--compress",
				"--compress-threads=8",
				"--kill-long-queries-timeout=10",
				"--user=xtra",
				"--password=secret",
				"--port=3307",
				"/raid0/mysql/3307/data",
			},
		},
		{
			name: "xtrabackup without datadir",
			buildFn: func() (*Command, error) {
				return builder.Xtrabackup(XtrabackupOpts{
					ConnectionOpts: ConnectionOpts{User: "xtra", Password: "secret", Port: 3307},
				})
			},
			wantErr: true,
		},
		{
			name: "pigz default threads",
			buildFn: func() (*Command, error) {
				return builder.Pigz(0), nil
			},
			wantArgv: []string{"/usr/bin/pigz", "-p", "8"},
		},
		{
			name: "pv without size",
			buildFn: func() (*Command, error) {
				return builder.Pv(0), nil
			},
			wantArgv: []string{"/usr/bin/pv", "-peafbt"},
		},
		{
			name: "pv with size",
			buildFn: func() (*Command, error) {
				return builder.Pv(2048), nil
			},
			wantArgv: []string{"/usr/bin/pv", "-peafbt", "--size", "2048"},
		},
		{
			name: "xbstream",
			buildFn: func() (*Command, error) {
				return builder.Xbstream("/raid0/mysql/3306/data")
			},
			wantArgv: []string{"/usr/bin/xbstream", "--extract", "--directory=/raid0/mysql/3306/data"},
		},
		{
			name: "s3 upload",
			buildFn: func() (*Command, error) {
				return builder.S3Upload(S3Opts{Bucket: "backups", Key: "xtrabackup/standard/rs1/db-1-3306-2024-01-02-03:04:05.xbstream"})
			},
			wantArgv: []string{
				"/usr/local/bin/gof3r",
				"put",
				"-b",
				"backups",
				"-k",
				"xtrabackup/standard/rs1/db-1-3306-2024-01-02-03:04:05.xbstream",
			},
		},
		{
			name: "s3 download escapes key",
			buildFn: func() (*Command, error) {
				return builder.S3Download(S3Opts{
					Bucket:   "backups",
					Key:      "xtrabackup/standard/rs1/db-1-3306-2024-01-02-03:04:05.xbstream",
					Endpoint: "s3.local",
				})
			},
			wantArgv: []string{
				"/usr/local/bin/gof3r",
				"get",
				"--endpoint=s3.local",
				"-b",
				"backups",
				"-k",
				"xtrabackup%2Fstandard%2Frs1%2Fdb-1-3306-2024-01-02-03%3A04%3A05.xbstream",
			},
		},
		{
			name: "s3 download without bucket",
			buildFn: func() (*Command, error) {
				return builder.S3Download(S3Opts{Key: "key"})
			},
			wantErr: true,
		},
		{
			name: "decompress",
			buildFn: func() (*Command, error) {
				return builder.InnobackupDecompress(4, "/raid0/mysql/3306/data/")
			},
			wantArgv: []string{"/usr/bin/innobackupex", "--parallel=4", "--decompress", "/raid0/mysql/3306/data"},
		},
		{
			name: "apply log",
			buildFn: func() (*Command, error) {
				return builder.InnobackupApplyLog(0, "/raid0/mysql/3306/data")
			},
			wantArgv: []string{"/usr/bin/innobackupex", "--apply-log", "--use-memory=10G", "/raid0/mysql/3306/data"},
		},
		{
			name: "apply log without datadir",
			buildFn: func() (*Command, error) {
				return builder.InnobackupApplyLog(10, "")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := tt.buildFn()
			if tt.wantErr {
				if err == nil {
					t.Error("expect error to have occurred, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.wantArgv, cmd.Argv()); diff != "" {
				t.Errorf("unexpected argv (-want +got):\n%s", diff)
			}
		})
	}
}
