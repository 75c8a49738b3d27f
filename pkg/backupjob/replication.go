package backupjob

import (
	"context"
	"fmt"

	"github.com/mysqlops/mysqlbackup/pkg/binlog"
	"github.com/mysqlops/mysqlbackup/pkg/environment"
	"github.com/mysqlops/mysqlbackup/pkg/sql"
	"github.com/mysqlops/mysqlbackup/pkg/topology"
)

// SqlReplication configures replication with CHANGE MASTER TO on the restored instance.
// sqlOpts apply to the connection to the restored instance, changeMasterOpts to the CHANGE MASTER statement.
type SqlReplication struct {
	credentials      CredentialsProvider
	sqlOpts          []sql.Opt
	changeMasterOpts []sql.ChangeMasterOpt
}

func NewSqlReplication(credentials CredentialsProvider, sqlOpts []sql.Opt,
	changeMasterOpts ...sql.ChangeMasterOpt) *SqlReplication {
	return &SqlReplication{
		credentials:      credentials,
		sqlOpts:          sqlOpts,
		changeMasterOpts: changeMasterOpts,
	}
}

func (s *SqlReplication) ConfigureReplication(ctx context.Context, instance, primary topology.Instance,
	coordinate binlog.Coordinate) error {
	admin, err := s.credentials.Credentials(environment.RoleAdmin)
	if err != nil {
		return fmt.Errorf("error getting admin credentials: %v", err)
	}
	replication, err := s.credentials.Credentials(environment.RoleReplication)
	if err != nil {
		return fmt.Errorf("error getting replication credentials: %v", err)
	}

	opts := []sql.Opt{
		sql.WithUsername(admin.User),
		sql.WithPassword(admin.Password),
		sql.WithInstance(instance),
	}
	client, err := sql.NewClient(ctx, append(opts, s.sqlOpts...)...)
	if err != nil {
		return fmt.Errorf("error connecting to %s: %v", instance, err)
	}
	defer client.Close()

	if err := client.StopSlave(ctx); err != nil {
		return fmt.Errorf("error stopping slave: %v", err)
	}
	if err := client.ResetSlave(ctx); err != nil {
		return fmt.Errorf("error resetting slave: %v", err)
	}
	changeMasterOpts := []sql.ChangeMasterOpt{
		sql.WithChangeMasterSource(primary),
		sql.WithChangeMasterCredentials(replication.User, replication.Password),
		sql.WithChangeMasterCoordinate(coordinate),
	}
	if err := client.ChangeMasterTo(ctx, append(changeMasterOpts, s.changeMasterOpts...)...); err != nil {
		return fmt.Errorf("error changing master: %v", err)
	}
	if err := client.StartSlave(ctx); err != nil {
		return fmt.Errorf("error starting slave: %v", err)
	}
	return nil
}
