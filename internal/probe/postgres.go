package probe

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pingPostgres opens a single pgx connection (no pool) and reads version().
func pingPostgres(ctx context.Context, req Request, dial dialFunc) (string, error) {
	dsn := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(req.Username, req.Password),
		Host:   net.JoinHostPort(req.Host, strconv.Itoa(req.Port)),
		Path:   "/" + req.Database,
		// prefer: use TLS when the server offers it, plain otherwise
		RawQuery: "sslmode=prefer",
	}

	cfg, err := pgx.ParseConfig(dsn.String())
	if err != nil {
		return "", fmt.Errorf("building postgres config: %w", err)
	}
	cfg.DialFunc = pgconn.DialFunc(dial)

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("connecting to postgres: %w", err)
	}
	defer conn.Close(context.WithoutCancel(ctx))

	var version string
	if err := conn.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		return "", fmt.Errorf("querying postgres version: %w", err)
	}
	return version, nil
}
