package connection

import (
	"context"
	"database/sql"
	"fmt"
	"net"

	"github.com/go-redis/redis/v8"
)

// Condition is the state a dependent waits for before it starts.
type Condition string

const (
	// ConditionHealthy requires the dependency's readiness predicate to pass.
	ConditionHealthy Condition = "service_healthy"
	// ConditionStarted only requires the dependency to accept connections.
	ConditionStarted Condition = "service_started"
)

// Probe checks a single dependency once.
type Probe interface {
	Name() string
	Condition() Condition
	Check(ctx context.Context) error
}

// Pinger is the subset of *sql.DB used by SQLProbe.
type Pinger interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// SQLProbe runs SELECT 1 against the datastore.
type SQLProbe struct {
	name string
	db   Pinger
}

// NewSQLProbe creates a datastore readiness probe
func NewSQLProbe(name string, db Pinger) *SQLProbe {
	return &SQLProbe{name: name, db: db}
}

func (p *SQLProbe) Name() string         { return p.name }
func (p *SQLProbe) Condition() Condition { return ConditionHealthy }

// Check executes the readiness query
func (p *SQLProbe) Check(ctx context.Context) error {
	var one int
	if err := p.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return err
	}
	if one != 1 {
		return fmt.Errorf("unexpected readiness result %d", one)
	}
	return nil
}

// RedisProbe issues PING against the cache.
type RedisProbe struct {
	name   string
	client redis.UniversalClient
}

// NewRedisProbe creates a cache readiness probe
func NewRedisProbe(name string, client redis.UniversalClient) *RedisProbe {
	return &RedisProbe{name: name, client: client}
}

func (p *RedisProbe) Name() string         { return p.name }
func (p *RedisProbe) Condition() Condition { return ConditionHealthy }

// Check pings the server
func (p *RedisProbe) Check(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// TCPProbe succeeds once the address accepts a connection.
type TCPProbe struct {
	name    string
	address string
}

// NewTCPProbe creates a started-only probe for address
func NewTCPProbe(name, address string) *TCPProbe {
	return &TCPProbe{name: name, address: address}
}

func (p *TCPProbe) Name() string         { return p.name }
func (p *TCPProbe) Condition() Condition { return ConditionStarted }

// Check dials and immediately closes the connection
func (p *TCPProbe) Check(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.address)
	if err != nil {
		return err
	}
	return conn.Close()
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc struct {
	ProbeName string
	Cond      Condition
	Fn        func(ctx context.Context) error
}

func (p ProbeFunc) Name() string                    { return p.ProbeName }
func (p ProbeFunc) Condition() Condition            { return p.Cond }
func (p ProbeFunc) Check(ctx context.Context) error { return p.Fn(ctx) }
