// Package topology describes the deployment of the tracker: the compose
// stack for both variants and the container image build.
package topology

import (
	"sort"
	"time"

	"github.com/smartdevs17/financial-tracker/internal/config"
)

// Service names
const (
	ServiceDB       = "db"
	ServiceRedis    = "redis"
	ServiceMailHog  = "mailhog"
	ServiceWeb      = "web"
	WebPort         = 8000
	DatabasePort    = 5432
	RedisPort       = 6379
	MailHogSMTPPort = 1025
	MailHogUIPort   = 8025
	StaticMountPath = "/app/staticfiles"
	MediaMountPath  = "/app/media"
)

// depends_on conditions
const (
	ConditionHealthy = "service_healthy"
	ConditionStarted = "service_started"
)

// PortMapping publishes a container port on the host. Host may contain a
// variable reference until the stack is resolved.
type PortMapping struct {
	Host      string
	Container int
}

// Mount attaches a named volume
type Mount struct {
	Volume string
	Path   string
}

// HealthCheck is a readiness probe run by the orchestrator
type HealthCheck struct {
	Test     []string
	Interval time.Duration
	Timeout  time.Duration
	Retries  int
}

// Budget is the longest the orchestrator waits before declaring the service
// unhealthy
func (h *HealthCheck) Budget() time.Duration {
	return time.Duration(h.Retries) * h.Interval
}

// Service is one container of the stack
type Service struct {
	Name        string
	Image       string
	Build       string
	Command     []string
	Environment map[string]string
	Ports       []PortMapping
	Mounts      []Mount
	HealthCheck *HealthCheck
	DependsOn   map[string]string
	Restart     string
}

// Stack is a complete deployment
type Stack struct {
	Variant  string
	Services []*Service
	Volumes  []string
}

// Service returns the named service or nil
func (s *Stack) Service(name string) *Service {
	for _, svc := range s.Services {
		if svc.Name == name {
			return svc
		}
	}
	return nil
}

// Options tune the generated stack
type Options struct {
	HealthCheck config.HealthCheckConfig
}

// DefaultOptions uses the retry budget of 5 × 10 s with a 5 s timeout
func DefaultOptions() Options {
	return Options{HealthCheck: config.HealthCheckConfig{
		Interval: 10 * time.Second,
		Timeout:  5 * time.Second,
		Retries:  5,
	}}
}

func dbHealthCheck(user string, opts Options) *HealthCheck {
	return &HealthCheck{
		Test:     []string{"CMD-SHELL", "pg_isready -U " + user},
		Interval: opts.HealthCheck.Interval,
		Timeout:  opts.HealthCheck.Timeout,
		Retries:  opts.HealthCheck.Retries,
	}
}

// required builds a compose reference that fails when name is unset
func required(name string) string {
	return "${" + name + ":?" + name + " is required}"
}

// New returns the stack of the given variant
func New(variant string, opts Options) (*Stack, error) {
	switch variant {
	case config.VariantFixed:
		return fixedStack(opts), nil
	case config.VariantParameterized:
		return parameterizedStack(opts), nil
	default:
		return nil, errUnknownVariant(variant)
	}
}

func fixedStack(opts Options) *Stack {
	return &Stack{
		Variant: config.VariantFixed,
		Services: []*Service{
			{
				Name:  ServiceDB,
				Image: "postgres:15",
				Environment: map[string]string{
					"POSTGRES_DB":       "financial_tracker",
					"POSTGRES_USER":     "postgres",
					"POSTGRES_PASSWORD": "postgres",
				},
				Ports:       []PortMapping{{Host: "5432", Container: DatabasePort}},
				Mounts:      []Mount{{Volume: "postgres_data", Path: "/var/lib/postgresql/data"}},
				HealthCheck: dbHealthCheck("postgres", opts),
				Restart:     "unless-stopped",
			},
			{
				Name:    ServiceRedis,
				Image:   "redis:7-alpine",
				Command: []string{"redis-server", "--appendonly", "yes"},
				Ports:   []PortMapping{{Host: "6379", Container: RedisPort}},
				Mounts:  []Mount{{Volume: "redis_data", Path: "/data"}},
				Restart: "unless-stopped",
			},
			{
				Name:    ServiceWeb,
				Build:   ".",
				Command: []string{"tracker", "start"},
				Environment: map[string]string{
					"TRACKER_VARIANT": config.VariantFixed,
					"DATABASE_URL":    "postgres://postgres:postgres@db:5432/financial_tracker?sslmode=disable",
					"REDIS_URL":       "redis://redis:6379/0",
					"STATIC_ROOT":     StaticMountPath,
				},
				Ports: []PortMapping{{Host: "8000", Container: WebPort}},
				Mounts: []Mount{
					{Volume: "static_volume", Path: StaticMountPath},
				},
				DependsOn: map[string]string{
					ServiceDB:    ConditionHealthy,
					ServiceRedis: ConditionStarted,
				},
				Restart: "on-failure",
			},
		},
		Volumes: []string{"postgres_data", "redis_data", "static_volume", "media_volume"},
	}
}

func parameterizedStack(opts Options) *Stack {
	return &Stack{
		Variant: config.VariantParameterized,
		Services: []*Service{
			{
				Name:  ServiceDB,
				Image: "postgres:15",
				Environment: map[string]string{
					"POSTGRES_DB":       required("POSTGRES_DB"),
					"POSTGRES_USER":     required("POSTGRES_USER"),
					"POSTGRES_PASSWORD": required("POSTGRES_PASSWORD"),
				},
				Ports:       []PortMapping{{Host: required("POSTGRES_PORT"), Container: DatabasePort}},
				Mounts:      []Mount{{Volume: "postgres_data", Path: "/var/lib/postgresql/data"}},
				HealthCheck: dbHealthCheck("${POSTGRES_USER}", opts),
				Restart:     "unless-stopped",
			},
			{
				Name:  ServiceMailHog,
				Image: "mailhog/mailhog",
				Ports: []PortMapping{
					{Host: required("MAILHOG_SMTP"), Container: MailHogSMTPPort},
					{Host: required("MAILHOG_UI"), Container: MailHogUIPort},
				},
				Restart: "unless-stopped",
			},
			{
				Name:    ServiceRedis,
				Image:   "redis:7-alpine",
				Command: []string{"redis-server", "--appendonly", "yes"},
				Ports:   []PortMapping{{Host: required("REDIS_PORT"), Container: RedisPort}},
				Mounts:  []Mount{{Volume: "redis_data", Path: "/data"}},
				Restart: "unless-stopped",
			},
			{
				Name:    ServiceWeb,
				Build:   ".",
				Command: []string{"tracker", "start"},
				Environment: map[string]string{
					"TRACKER_VARIANT": config.VariantParameterized,
					"DEBUG":           required("DEBUG"),
					"DEV_ENV":         required("DEV_ENV"),
					"DATABASE_URL":    required("DATABASE_URL"),
					"REDIS_URL":       required("REDIS_URL"),
					"EMAIL_HOST":      ServiceMailHog,
					"EMAIL_PORT":      "1025",
				},
				Ports: []PortMapping{{Host: required("WEB_PORT"), Container: WebPort}},
				DependsOn: map[string]string{
					ServiceDB:      ConditionHealthy,
					ServiceMailHog: ConditionStarted,
					ServiceRedis:   ConditionStarted,
				},
				Restart: "on-failure",
			},
		},
		Volumes: []string{"postgres_data", "redis_data"},
	}
}

// RequiredVariables lists the environment variables the variant needs, sorted
func RequiredVariables(variant string) []string {
	if variant != config.VariantParameterized {
		return nil
	}
	vars := []string{
		"POSTGRES_DB", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_PORT",
		"MAILHOG_SMTP", "MAILHOG_UI", "REDIS_PORT", "WEB_PORT",
		"DEBUG", "DATABASE_URL", "REDIS_URL", "DEV_ENV",
	}
	sort.Strings(vars)
	return vars
}
