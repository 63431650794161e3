// Package probe checks whether a saved connection's database is reachable
// with a given password. It opens one short-lived connection, asks the
// server for its version and closes it again.
//
// WHAT THE CALLER SEES:
// Driver errors carry resolved addresses, dial errors and server messages.
// None of that leaves the package: a failed probe reports one of the
// Failure* categories, and the full error goes to the server log only.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sakif/connhub/internal/model"
)

// Failure categories reported in Result.Error.
const (
	FailureUnreachable = "unreachable"
	FailureTimeout     = "timeout"
	FailureAuth        = "auth_failed"
	FailureBlocked     = "blocked_target"
)

// MySQL server error numbers for rejected credentials.
const (
	mysqlAccessDenied   = 1045
	mysqlDBAccessDenied = 1044
)

// Request describes the database to probe. Password is supplied per call
// and never persisted.
type Request struct {
	DBType   model.DBType
	Host     string
	Port     int
	Username string
	Password string
	Database string
}

// Result is the outcome of one probe. An unreachable database is a normal
// Result with Reachable=false, not an error.
type Result struct {
	Reachable     bool          `json:"reachable"`
	ServerVersion string        `json:"serverVersion,omitempty"`
	Error         string        `json:"error,omitempty"` // one of the Failure* values
	Latency       time.Duration `json:"-"`
	LatencyMS     int64         `json:"latencyMs"`
}

// Prober is implemented by Service. Handlers and the connection service
// depend on the interface so tests can substitute a fake.
type Prober interface {
	Probe(ctx context.Context, req Request) (*Result, error)
}

// pingFunc connects through dial, returns the server version and
// disconnects.
type pingFunc func(ctx context.Context, req Request, dial dialFunc) (string, error)

// Service dispatches probes to a per-engine pinger.
type Service struct {
	timeout time.Duration
	logger  *slog.Logger
	dial    dialFunc
	pingers map[model.DBType]pingFunc
}

// New creates a Service. Each probe is bounded by timeout. allowLoopback
// lets probes reach databases on the server's own host.
func New(timeout time.Duration, allowLoopback bool, logger *slog.Logger) *Service {
	return &Service{
		timeout: timeout,
		logger:  logger,
		dial:    newGuardedDialer(timeout, allowLoopback),
		pingers: map[model.DBType]pingFunc{
			model.DBTypePostgres: pingPostgres,
			model.DBTypeMySQL:    pingMySQL,
		},
	}
}

// Probe tests connectivity. It returns an error only when the request
// itself cannot be probed (unknown engine).
func (s *Service) Probe(ctx context.Context, req Request) (*Result, error) {
	ping, ok := s.pingers[req.DBType]
	if !ok {
		return nil, fmt.Errorf("probe: unsupported database type %q", req.DBType)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	version, err := ping(ctx, req, s.dial)
	elapsed := time.Since(start)

	res := &Result{Latency: elapsed, LatencyMS: elapsed.Milliseconds()}
	if err != nil {
		res.Error = classify(err)
		s.logger.Info("probe failed",
			slog.String("dbType", string(req.DBType)),
			slog.String("host", req.Host),
			slog.Int("port", req.Port),
			slog.Duration("latency", elapsed),
			slog.String("failure", res.Error),
			slog.String("error", err.Error()),
		)
		return res, nil
	}

	res.Reachable = true
	res.ServerVersion = version
	s.logger.Info("probe succeeded",
		slog.String("dbType", string(req.DBType)),
		slog.String("host", req.Host),
		slog.Duration("latency", elapsed),
	)
	return res, nil
}

// classify maps a driver error onto a Failure* category.
func classify(err error) string {
	var (
		pgErr  *pgconn.PgError
		myErr  *mysql.MySQLError
		netErr net.Error
	)
	switch {
	case errors.Is(err, ErrBlockedTarget):
		return FailureBlocked
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return FailureTimeout
	case errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "28"): // class 28: invalid authorization
		return FailureAuth
	case errors.As(err, &myErr) && (myErr.Number == mysqlAccessDenied || myErr.Number == mysqlDBAccessDenied):
		return FailureAuth
	default:
		return FailureUnreachable
	}
}
