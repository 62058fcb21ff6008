// Package monitoring runs the staged polling pipeline across all controllers.
package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/rcourtman/fabricpulse/internal/models"
	"github.com/rcourtman/fabricpulse/internal/output"
	"github.com/rcourtman/fabricpulse/pkg/fabric"
)

// ControllerAPI is the subset of the fabric client used by the poller.
type ControllerAPI interface {
	Login(ctx context.Context) (fabric.Session, error)
	Capacity(ctx context.Context, s fabric.Session) ([]fabric.Object, error)
	Faults(ctx context.Context, s fabric.Session) ([]fabric.Object, error)
	Nodes(ctx context.Context, s fabric.Session) ([]fabric.Object, error)
	Interfaces(ctx context.Context, s fabric.Session, nodeDN string) ([]fabric.Object, error)
	InterfaceStats(ctx context.Context, s fabric.Session, nodeDN, ifID, statsClass string) (map[string]string, error)
}

// NodeLocator resolves a controller name to its monitoring-system node ID.
type NodeLocator interface {
	NodeID(ctx context.Context, label string) (string, error)
}

// EventSender forwards one fault.
type EventSender interface {
	Send(ctx context.Context, c *models.Controller, fault models.Fault) error
}

// OutputWriter persists the aggregated controllers.
type OutputWriter interface {
	WriteAll(ctx context.Context, controllers []*models.Controller) output.Result
}

// HostResolver maps a controller address to a hostname.
type HostResolver interface {
	Hostname(ctx context.Context, address string) string
}

// Target is one controller to poll.
type Target struct {
	Name     string
	Address  string
	Hostname string // optional, resolved from Address when empty
	API      ControllerAPI
}

// Options configures a Poller. Locator, Events, Output and Resolver are
// optional; the corresponding step is skipped when nil.
type Options struct {
	Concurrency int
	Locator     NodeLocator
	Events      EventSender
	Output      OutputWriter
	Resolver    HostResolver
}

// Poller runs polling cycles over a fixed set of controllers.
type Poller struct {
	targets []Target
	opts    Options
}

// New creates a poller.
func New(targets []Target, opts Options) (*Poller, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("no controllers to poll")
	}
	if opts.Concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be at least 1, got %d", opts.Concurrency)
	}

	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		if t.API == nil {
			return nil, fmt.Errorf("controller %q has no API client", t.Name)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("duplicate controller %q", t.Name)
		}
		seen[t.Name] = true
	}

	return &Poller{targets: targets, opts: opts}, nil
}

// Controllers returns the configured controller names.
func (p *Poller) Controllers() []string {
	names := make([]string, 0, len(p.targets))
	for _, t := range p.targets {
		names = append(names, t.Name)
	}
	return names
}

// controllerRun pairs a fresh per-run model with its API client.
type controllerRun struct {
	model *models.Controller
	api   ControllerAPI
}

func (p *Poller) newRuns(ctx context.Context) []*controllerRun {
	runs := make([]*controllerRun, 0, len(p.targets))
	for _, t := range p.targets {
		hostname := t.Hostname
		if hostname == "" && p.opts.Resolver != nil {
			hostname = p.opts.Resolver.Hostname(ctx, t.Address)
		}
		runs = append(runs, &controllerRun{
			model: models.NewController(t.Name, t.Address, hostname),
			api:   t.API,
		})
	}
	return runs
}

// RunSummary reports the outcome of one cycle.
type RunSummary struct {
	RunID         string        `json:"runId"`
	Started       time.Time     `json:"started"`
	Duration      time.Duration `json:"duration"`
	Controllers   int           `json:"controllers"`
	LoggedIn      int           `json:"loggedIn"`
	Nodes         int           `json:"nodes"`
	Interfaces    int           `json:"interfaces"`
	Faults        int           `json:"faults"`
	JobsScheduled int           `json:"jobsScheduled"`
	JobsFailed    int           `json:"jobsFailed"`
	EventsSent    int           `json:"eventsSent"`
	EventsFailed  int           `json:"eventsFailed"`
	FilesWritten  []string      `json:"filesWritten,omitempty"`
	FilesFailed   int           `json:"filesFailed"`
	Overwritten   int           `json:"overwritten"`

	// Result holds the aggregated controllers, read-only.
	Result []*models.Controller `json:"-"`
}
