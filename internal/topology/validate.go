package topology

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/smartdevs17/financial-tracker/pkg/utils"
)

// Validate checks a resolved stack: host ports and named volumes belong to
// one service each, every dependency exists, and the web container port is
// the one the server binds.
func (s *Stack) Validate(serverPort int) error {
	var problems []string

	services := make(map[string]bool, len(s.Services))
	for _, svc := range s.Services {
		if services[svc.Name] {
			problems = append(problems, fmt.Sprintf("service %q is declared twice", svc.Name))
		}
		services[svc.Name] = true
	}

	declared := make(map[string]bool, len(s.Volumes))
	for _, v := range s.Volumes {
		declared[v] = true
	}

	hostPorts := make(map[int]string)
	volumes := make(map[string]string)

	for _, svc := range s.Services {
		for _, p := range svc.Ports {
			port, err := strconv.Atoi(p.Host)
			if err != nil || port < 1 || port > 65535 {
				problems = append(problems, fmt.Sprintf("%s: invalid host port %q", svc.Name, p.Host))
				continue
			}
			if owner, taken := hostPorts[port]; taken {
				problems = append(problems, fmt.Sprintf("%s: host port %d already used by %s", svc.Name, port, owner))
				continue
			}
			hostPorts[port] = svc.Name
		}

		for _, m := range svc.Mounts {
			if !declared[m.Volume] {
				problems = append(problems, fmt.Sprintf("%s: volume %q is not declared", svc.Name, m.Volume))
			}
			if owner, taken := volumes[m.Volume]; taken && owner != svc.Name {
				problems = append(problems, fmt.Sprintf("%s: volume %q already mounted by %s", svc.Name, m.Volume, owner))
				continue
			}
			volumes[m.Volume] = svc.Name
		}

		for dep, condition := range svc.DependsOn {
			if !services[dep] {
				problems = append(problems, fmt.Sprintf("%s: depends on unknown service %q", svc.Name, dep))
				continue
			}
			if condition == ConditionHealthy {
				if target := s.Service(dep); target.HealthCheck == nil {
					problems = append(problems, fmt.Sprintf("%s: %s has no health check", svc.Name, dep))
				}
			}
		}
	}

	web := s.Service(ServiceWeb)
	switch {
	case web == nil:
		problems = append(problems, "web service is missing")
	case !publishes(web, serverPort):
		problems = append(problems, fmt.Sprintf("web does not publish the server port %d", serverPort))
	}

	if len(problems) > 0 {
		return utils.NewAppError(utils.ErrCodeValidation, "Invalid deployment topology", strings.Join(problems, "; "))
	}
	return nil
}

func publishes(svc *Service, container int) bool {
	for _, p := range svc.Ports {
		if p.Container == container {
			return true
		}
	}
	return false
}
