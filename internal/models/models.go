package models

import (
	"sync"

	"github.com/rcourtman/fabricpulse/pkg/fabric"
)

// Operational and administrative states that gate interface discovery.
const (
	NodeStateActive = "active"
	AdminStateUp    = "up"

	// DefaultDescription is used for interfaces without a description.
	DefaultDescription = "-"
)

// Controller is one polled fabric controller and everything collected from it
// during a single run. Stage callbacks write disjoint fields through the
// setters; after aggregation the controller is read-only.
type Controller struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Hostname string `json:"hostname"`

	mu       sync.RWMutex
	session  fabric.Session
	nodeID   string
	faults   []Fault
	capacity []CapacityEntity
	nodes    []*FabricNode
}

// NewController creates a controller from static configuration.
func NewController(name, address, hostname string) *Controller {
	if hostname == "" {
		hostname = address
	}
	return &Controller{Name: name, Address: address, Hostname: hostname}
}

// SetSession records the session obtained at login.
func (c *Controller) SetSession(s fabric.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
}

// Session returns the login session; the zero value if login failed.
func (c *Controller) Session() fabric.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// SetNodeID records the monitoring-system node identifier.
func (c *Controller) SetNodeID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodeID = id
}

// NodeID returns the monitoring-system node identifier.
func (c *Controller) NodeID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nodeID
}

// SetFaults replaces the fault list.
func (c *Controller) SetFaults(faults []Fault) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = faults
}

// Faults returns the faults in retrieval order.
func (c *Controller) Faults() []Fault {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Fault(nil), c.faults...)
}

// SetCapacity replaces the capacity entities.
func (c *Controller) SetCapacity(entities []CapacityEntity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capacity = entities
}

// Capacity returns the capacity entities.
func (c *Controller) Capacity() []CapacityEntity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]CapacityEntity(nil), c.capacity...)
}

// AddNode appends a discovered fabric node.
func (c *Controller) AddNode(n *FabricNode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes = append(c.nodes, n)
}

// Nodes returns the discovered fabric nodes.
func (c *Controller) Nodes() []*FabricNode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*FabricNode(nil), c.nodes...)
}

// FabricNode is one switch in the fabric.
type FabricNode struct {
	ID    string `json:"id"`
	DN    string `json:"dn"`
	Role  string `json:"role,omitempty"`
	State string `json:"state"`

	// Interfaces is assigned once by the discovery callback for this node.
	Interfaces []*Interface `json:"interfaces"`
}

// IsActive reports whether the node is eligible for interface discovery.
func (n *FabricNode) IsActive() bool {
	return n.State == NodeStateActive
}

// Interface is one physical port. Ingress and Egress are written only by the
// aggregator.
type Interface struct {
	ID         string            `json:"id"`
	Usage      string            `json:"usage"`
	AdminState string            `json:"adminState"`
	Descr      string            `json:"descr,omitempty"`
	Ingress    map[string]string `json:"ingress,omitempty"`
	Egress     map[string]string `json:"egress,omitempty"`
}

// IsUp reports whether the interface is administratively up.
func (i *Interface) IsUp() bool {
	return i.AdminState == AdminStateUp
}

// HasStats reports whether either direction has counters.
func (i *Interface) HasStats() bool {
	return len(i.Ingress) > 0 || len(i.Egress) > 0
}

// Description returns the description or the placeholder.
func (i *Interface) Description() string {
	if i.Descr == "" {
		return DefaultDescription
	}
	return i.Descr
}

// Fault is an opaque fault record as reported by the controller.
type Fault struct {
	Attrs map[string]string `json:"attrs"`
}

// Severity returns the raw severity attribute.
func (f Fault) Severity() string {
	return f.Attrs["severity"]
}

// Descr returns the fault description attribute.
func (f Fault) Descr() string {
	return f.Attrs["descr"]
}

// CapacityEntity is one capacity record with its distinguished name.
type CapacityEntity struct {
	Class string            `json:"class"`
	DN    string            `json:"dn"`
	Attrs map[string]string `json:"attrs"`
}
