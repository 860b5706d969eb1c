package topology

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

type composeFile struct {
	Services map[string]composeService `yaml:"services"`
	Volumes  map[string]struct{}       `yaml:"volumes,omitempty"`
}

type composeService struct {
	Image       string                    `yaml:"image,omitempty"`
	Build       string                    `yaml:"build,omitempty"`
	Command     []string                  `yaml:"command,omitempty"`
	Environment map[string]string         `yaml:"environment,omitempty"`
	Ports       []string                  `yaml:"ports,omitempty"`
	Volumes     []string                  `yaml:"volumes,omitempty"`
	Healthcheck *composeHealthcheck       `yaml:"healthcheck,omitempty"`
	DependsOn   map[string]composeDepends `yaml:"depends_on,omitempty"`
	Restart     string                    `yaml:"restart,omitempty"`
}

type composeHealthcheck struct {
	Test     []string `yaml:"test"`
	Interval string   `yaml:"interval"`
	Timeout  string   `yaml:"timeout"`
	Retries  int      `yaml:"retries"`
}

type composeDepends struct {
	Condition string `yaml:"condition"`
}

func errUnknownVariant(variant string) error {
	return utils.NewAppError(utils.ErrCodeConfiguration, "Unknown deployment variant", variant)
}

// Compose renders the stack as a compose file
func (s *Stack) Compose() ([]byte, error) {
	file := composeFile{
		Services: make(map[string]composeService, len(s.Services)),
		Volumes:  make(map[string]struct{}, len(s.Volumes)),
	}
	for _, v := range s.Volumes {
		file.Volumes[v] = struct{}{}
	}

	for _, svc := range s.Services {
		out := composeService{
			Image:       svc.Image,
			Build:       svc.Build,
			Command:     svc.Command,
			Environment: svc.Environment,
			Restart:     svc.Restart,
		}
		for _, p := range svc.Ports {
			out.Ports = append(out.Ports, fmt.Sprintf("%s:%d", p.Host, p.Container))
		}
		for _, m := range svc.Mounts {
			out.Volumes = append(out.Volumes, m.Volume+":"+m.Path)
		}
		if hc := svc.HealthCheck; hc != nil {
			out.Healthcheck = &composeHealthcheck{
				Test:     hc.Test,
				Interval: hc.Interval.String(),
				Timeout:  hc.Timeout.String(),
				Retries:  hc.Retries,
			}
		}
		if len(svc.DependsOn) > 0 {
			out.DependsOn = make(map[string]composeDepends, len(svc.DependsOn))
			for name, condition := range svc.DependsOn {
				out.DependsOn[name] = composeDepends{Condition: condition}
			}
		}
		file.Services[svc.Name] = out
	}

	data, err := yaml.Marshal(file)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to render compose file", err.Error())
	}
	return data, nil
}

// ${NAME}, ${NAME:-default} and ${NAME:?message}
var variableRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?:(:[-?])([^}]*))?\}`)

// Interpolate substitutes variable references in value. References marked
// required that lookup cannot satisfy are returned as missing.
func Interpolate(value string, lookup func(string) (string, bool)) (string, []string) {
	var missing []string
	out := variableRef.ReplaceAllStringFunc(value, func(ref string) string {
		m := variableRef.FindStringSubmatch(ref)
		name, op, arg := m[1], m[2], m[3]

		v, ok := lookup(name)
		if ok && v != "" {
			return v
		}
		switch op {
		case ":-":
			return arg
		case ":?":
			missing = append(missing, name)
		}
		return ""
	})
	return out, missing
}

// CheckEnv reports every required variable of the variant that lookup does
// not provide
func CheckEnv(variant string, lookup func(string) (string, bool)) error {
	var missing []string
	for _, name := range RequiredVariables(variant) {
		if v, ok := lookup(name); !ok || strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration,
			"Required environment variables are not set", strings.Join(missing, ", "))
	}
	return nil
}

// Resolve returns a copy of the stack with every variable reference
// substituted. All missing required variables are reported together.
func (s *Stack) Resolve(lookup func(string) (string, bool)) (*Stack, error) {
	missingSet := make(map[string]bool)
	sub := func(value string) string {
		out, missing := Interpolate(value, lookup)
		for _, name := range missing {
			missingSet[name] = true
		}
		return out
	}

	resolved := &Stack{Variant: s.Variant, Volumes: append([]string(nil), s.Volumes...)}
	for _, svc := range s.Services {
		cp := *svc
		cp.Command = nil
		for _, arg := range svc.Command {
			cp.Command = append(cp.Command, sub(arg))
		}
		cp.Environment = make(map[string]string, len(svc.Environment))
		for k, v := range svc.Environment {
			cp.Environment[k] = sub(v)
		}
		cp.Ports = nil
		for _, p := range svc.Ports {
			cp.Ports = append(cp.Ports, PortMapping{Host: sub(p.Host), Container: p.Container})
		}
		if svc.HealthCheck != nil {
			hc := *svc.HealthCheck
			hc.Test = nil
			for _, t := range svc.HealthCheck.Test {
				hc.Test = append(hc.Test, sub(t))
			}
			cp.HealthCheck = &hc
		}
		resolved.Services = append(resolved.Services, &cp)
	}

	if len(missingSet) > 0 {
		missing := make([]string, 0, len(missingSet))
		for name := range missingSet {
			missing = append(missing, name)
		}
		sort.Strings(missing)
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"Required environment variables are not set", strings.Join(missing, ", "))
	}
	return resolved, nil
}

// HostPort returns the published host port of a service's container port
func (s *Stack) HostPort(service string, container int) (int, error) {
	svc := s.Service(service)
	if svc == nil {
		return 0, utils.NewAppError(utils.ErrCodeNotFound, "Unknown service", service)
	}
	for _, p := range svc.Ports {
		if p.Container == container {
			port, err := strconv.Atoi(p.Host)
			if err != nil {
				return 0, utils.NewAppError(utils.ErrCodeValidation, "Host port is not a number", p.Host)
			}
			return port, nil
		}
	}
	return 0, utils.NewAppError(utils.ErrCodeNotFound, "Port is not published",
		fmt.Sprintf("%s:%d", service, container))
}
