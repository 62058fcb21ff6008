package models

import (
	"fmt"
	"strings"
)

// Direction selects the ingress or egress counters of an interface.
type Direction string

const (
	DirectionIngress Direction = "ingress"
	DirectionEgress  Direction = "egress"
)

// Directions lists both directions in scheduling order.
var Directions = []Direction{DirectionIngress, DirectionEgress}

// AggregationKey routes a statistics result to exactly one interface.
type AggregationKey struct {
	Controller string
	Node       string
	Interface  string
}

func (k AggregationKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Controller, k.Node, k.Interface)
}

// StatJob is one interface statistics fetch.
type StatJob struct {
	Controller  *Controller
	NodeID      string
	NodeDN      string
	InterfaceID string
	Direction   Direction
}

// Key returns the aggregation key of the job's interface.
func (j StatJob) Key() AggregationKey {
	name := ""
	if j.Controller != nil {
		name = j.Controller.Name
	}
	return AggregationKey{Controller: name, Node: j.NodeID, Interface: j.InterfaceID}
}

// BuildStatJobs schedules one ingress and one egress job for every up
// interface under every active node of c.
func BuildStatJobs(c *Controller) []StatJob {
	var jobs []StatJob
	for _, node := range c.Nodes() {
		if !node.IsActive() {
			continue
		}
		for _, iface := range node.Interfaces {
			if !iface.IsUp() {
				continue
			}
			for _, dir := range Directions {
				jobs = append(jobs, StatJob{
					Controller:  c,
					NodeID:      node.ID,
					NodeDN:      node.DN,
					InterfaceID: iface.ID,
					Direction:   dir,
				})
			}
		}
	}
	return jobs
}

// NormalizeSeverity maps a controller severity to the downstream vocabulary:
// "info" becomes "Normal", everything else is capitalized.
func NormalizeSeverity(severity string) string {
	s := strings.ToLower(strings.TrimSpace(severity))
	if s == "info" {
		return "Normal"
	}
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// SanitizeInterfaceID makes an interface identifier safe for use as a file or
// element key.
func SanitizeInterfaceID(id string) string {
	return strings.ReplaceAll(id, "/", "-")
}
