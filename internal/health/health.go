// Package health aggregates dependency checks for the HTTP and gRPC health endpoints.
package health

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Status of the service
type Status int

const (
	Healthy Status = iota
	Degraded
	Unhealthy
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	default:
		return "unhealthy"
	}
}

// Check probes one dependency. A failing Critical check makes the service unhealthy,
// any other failing check only degrades it.
type Check struct {
	Name     string
	Critical bool
	Probe    func(ctx context.Context) error
}

// Report is the result of running all checks
type Report struct {
	Status Status
	Failed []string
}

func (r Report) String() string {
	if len(r.Failed) == 0 {
		return r.Status.String()
	}
	return r.Status.String() + ": " + strings.Join(r.Failed, ", ") + " unavailable"
}

// Checker runs the registered checks
type Checker struct {
	checks  []Check
	timeout time.Duration
	log     *zap.Logger
}

// NewChecker creates a checker over checks
func NewChecker(log *zap.Logger, checks ...Check) *Checker {
	return &Checker{checks: checks, timeout: 2 * time.Second, log: log}
}

// Run probes every dependency
func (c *Checker) Run(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	report := Report{Status: Healthy}
	for _, check := range c.checks {
		err := check.Probe(ctx)
		if err == nil {
			continue
		}
		c.log.Warn("Health check failed", zap.String("check", check.Name), zap.Error(err))
		report.Failed = append(report.Failed, check.Name)
		if check.Critical {
			report.Status = Unhealthy
		} else if report.Status == Healthy {
			report.Status = Degraded
		}
	}
	return report
}
