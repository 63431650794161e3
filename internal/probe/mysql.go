package probe

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

// pingMySQL opens a one-connection database/sql handle through the
// go-sql-driver connector and reads VERSION().
func pingMySQL(ctx context.Context, req Request, dial dialFunc) (string, error) {
	cfg := mysql.NewConfig()
	cfg.User = req.Username
	cfg.Passwd = req.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(req.Host, strconv.Itoa(req.Port))
	cfg.DBName = req.Database
	cfg.DialFunc = dial
	if deadline, ok := ctx.Deadline(); ok {
		cfg.Timeout = time.Until(deadline)
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return "", fmt.Errorf("building mysql config: %w", err)
	}

	db := sql.OpenDB(connector)
	defer db.Close()
	db.SetMaxOpenConns(1)

	var version string
	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		return "", fmt.Errorf("connecting to mysql: %w", err)
	}
	return version, nil
}
