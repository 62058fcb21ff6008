// Package events forwards controller faults to the monitoring system's event
// listener.
package events

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"

	monerrors "github.com/rcourtman/fabricpulse/internal/errors"
	"github.com/rcourtman/fabricpulse/internal/logging"
	"github.com/rcourtman/fabricpulse/internal/metrics"
	"github.com/rcourtman/fabricpulse/internal/models"
)

// TimeLayout is the event timestamp format expected by the listener.
const TimeLayout = "Monday, 2 January 2006 15:04:05 o'clock MST"

// Defaults for the event endpoint.
const (
	DefaultPort   = 5817
	DefaultSource = "fabricpulse"
	DefaultUEI    = "uei.opennms.org/vendor/fabric/traps/fault"
)

const eventTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<log>
 <events>
  <event>
   <uei>{{xml .UEI}}</uei>
   <source>{{xml .Source}}</source>
   <nodeid>{{xml .NodeID}}</nodeid>
   <time>{{xml .Time}}</time>
   <host>{{xml .Host}}</host>
   <severity>{{xml .Severity}}</severity>
   <descr>{{xml .Descr}}</descr>
   <parms>
{{- range .Parms}}
    <parm>
     <parmName>{{xml .Name}}</parmName>
     <value type="string" encoding="text">{{xml .Value}}</value>
    </parm>
{{- end}}
   </parms>
  </event>
 </events>
</log>
`

// Parm is one named event parameter.
type Parm struct {
	Name  string
	Value string
}

// Event is the rendered form of one fault.
type Event struct {
	UEI      string
	Source   string
	NodeID   string
	Time     string
	Host     string
	Severity string
	Descr    string
	Parms    []Parm
}

// Config configures the event endpoint.
type Config struct {
	Host        string
	Port        int
	Source      string
	UEI         string
	DialTimeout time.Duration // 0 means no dial timeout
}

// Forwarder sends one event per TCP connection. Delivery is best-effort.
type Forwarder struct {
	addr   string
	source string
	uei    string
	dialer net.Dialer
	tmpl   *template.Template
	now    func() time.Time
}

// NewForwarder validates cfg and parses the event template.
func NewForwarder(cfg Config) (*Forwarder, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, fmt.Errorf("event host is required")
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("invalid event port %d", port)
	}
	source := cfg.Source
	if source == "" {
		source = DefaultSource
	}
	uei := cfg.UEI
	if uei == "" {
		uei = DefaultUEI
	}

	funcMap := template.FuncMap{
		"xml": escapeXML,
	}
	tmpl, err := template.New("event").Funcs(funcMap).Parse(eventTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid event template: %w", err)
	}

	return &Forwarder{
		addr:   net.JoinHostPort(host, strconv.Itoa(port)),
		source: source,
		uei:    uei,
		dialer: net.Dialer{Timeout: cfg.DialTimeout},
		tmpl:   tmpl,
		now:    time.Now,
	}, nil
}

// Addr returns the host:port events are sent to.
func (f *Forwarder) Addr() string {
	return f.addr
}

// Build maps a fault of c to an event stamped with the current UTC time.
func (f *Forwarder) Build(c *models.Controller, fault models.Fault) Event {
	keys := make([]string, 0, len(fault.Attrs))
	for k := range fault.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parms := make([]Parm, 0, len(keys))
	for _, k := range keys {
		parms = append(parms, Parm{Name: k, Value: fault.Attrs[k]})
	}

	return Event{
		UEI:      f.uei,
		Source:   f.source,
		NodeID:   c.NodeID(),
		Time:     f.now().UTC().Format(TimeLayout),
		Host:     c.Hostname,
		Severity: models.NormalizeSeverity(fault.Severity()),
		Descr:    fault.Descr(),
		Parms:    parms,
	}
}

// Render produces the wire payload of ev.
func (f *Forwarder) Render(ev Event) ([]byte, error) {
	var buf bytes.Buffer
	if err := f.tmpl.Execute(&buf, ev); err != nil {
		return nil, fmt.Errorf("template execution failed: %w", err)
	}
	return buf.Bytes(), nil
}

// Send renders the fault, opens a new connection, writes the payload and
// closes the connection. Nothing is read back. Failures are logged and the
// event is dropped.
func (f *Forwarder) Send(ctx context.Context, c *models.Controller, fault models.Fault) error {
	err := f.send(ctx, c, fault)
	metrics.RecordEvent(err)
	if err != nil {
		logging.FromContext(ctx).Warn().Err(err).
			Str("controller", c.Name).
			Str("addr", f.addr).
			Str("severity", fault.Severity()).
			Msg("Dropping fault event")
	}
	return err
}

func (f *Forwarder) send(ctx context.Context, c *models.Controller, fault models.Fault) error {
	payload, err := f.Render(f.Build(c, fault))
	if err != nil {
		return monerrors.NewMonitorError(monerrors.ErrorTypeValidation, "forward_event", c.Name, err)
	}

	conn, err := f.dialer.DialContext(ctx, "tcp", f.addr)
	if err != nil {
		return monerrors.WrapConnectionError("forward_event", c.Name, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if _, err := conn.Write(payload); err != nil {
		return monerrors.WrapConnectionError("forward_event", c.Name, err)
	}
	return nil
}

func escapeXML(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
