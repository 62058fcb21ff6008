package aggregator

import (
	"fmt"
	"sync"
	"testing"

	monerrors "github.com/rcourtman/fabricpulse/internal/errors"
	"github.com/rcourtman/fabricpulse/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newController(name string, ifaces ...string) *models.Controller {
	c := models.NewController(name, "10.0.0.1", "")
	node := &models.FabricNode{ID: "101", DN: "topology/pod-1/node-101", State: models.NodeStateActive}
	for _, id := range ifaces {
		node.Interfaces = append(node.Interfaces, &models.Interface{ID: id, AdminState: models.AdminStateUp})
	}
	c.AddNode(node)
	return c
}

func key(controller, iface string) models.AggregationKey {
	return models.AggregationKey{Controller: controller, Node: "101", Interface: iface}
}

func TestRecordRoutesByKey(t *testing.T) {
	fab1 := newController("fab1", "eth1/1", "eth1/2")
	fab2 := newController("fab2", "eth1/1")

	a := New([]*models.Controller{fab1, fab2})
	assert.Equal(t, 3, a.Len())

	require.NoError(t, a.Record(key("fab1", "eth1/1"), models.DirectionIngress, map[string]string{"bytesRate": "1"}))
	require.NoError(t, a.Record(key("fab2", "eth1/1"), models.DirectionEgress, map[string]string{"bytesRate": "2"}))

	stats := a.Freeze()
	assert.Equal(t, Stats{Recorded: 2}, stats)

	f1 := fab1.Nodes()[0].Interfaces
	assert.Equal(t, map[string]string{"bytesRate": "1"}, f1[0].Ingress)
	assert.Empty(t, f1[0].Egress)
	assert.False(t, f1[1].HasStats())

	f2 := fab2.Nodes()[0].Interfaces
	assert.Empty(t, f2[0].Ingress)
	assert.Equal(t, map[string]string{"bytesRate": "2"}, f2[0].Egress)
}

func TestRecordLastWriteWins(t *testing.T) {
	c := newController("fab1", "eth1/1")
	a := New([]*models.Controller{c})

	require.NoError(t, a.Record(key("fab1", "eth1/1"), models.DirectionIngress, map[string]string{"v": "first"}))
	require.NoError(t, a.Record(key("fab1", "eth1/1"), models.DirectionIngress, map[string]string{"v": "second"}))

	stats := a.Freeze()
	assert.Equal(t, 2, stats.Recorded)
	assert.Equal(t, 1, stats.Overwritten)
	assert.Equal(t, "second", c.Nodes()[0].Interfaces[0].Ingress["v"])
}

func TestRecordCopiesAttributes(t *testing.T) {
	c := newController("fab1", "eth1/1")
	a := New([]*models.Controller{c})

	attrs := map[string]string{"v": "1"}
	require.NoError(t, a.Record(key("fab1", "eth1/1"), models.DirectionEgress, attrs))
	attrs["v"] = "mutated"
	a.Freeze()

	assert.Equal(t, "1", c.Nodes()[0].Interfaces[0].Egress["v"])
}

func TestRecordUnknownKeyDropped(t *testing.T) {
	c := newController("fab1", "eth1/1")
	a := New([]*models.Controller{c})

	require.NoError(t, a.Record(key("fab1", "eth9/9"), models.DirectionIngress, map[string]string{"v": "1"}))
	stats := a.Freeze()
	assert.Equal(t, Stats{Unknown: 1}, stats)
	assert.False(t, c.Nodes()[0].Interfaces[0].HasStats())
}

func TestRecordAfterFreeze(t *testing.T) {
	a := New([]*models.Controller{newController("fab1", "eth1/1")})
	first := a.Freeze()
	assert.Equal(t, first, a.Freeze())

	err := a.Record(key("fab1", "eth1/1"), models.DirectionIngress, nil)
	assert.True(t, monerrors.IsProtocolViolation(err))
}

func TestRecordRejectsUnknownDirection(t *testing.T) {
	a := New(nil)
	err := a.Record(key("fab1", "eth1/1"), models.Direction("sideways"), nil)
	assert.True(t, monerrors.IsProtocolViolation(err))
	a.Freeze()
}

func TestConcurrentRecordsMergeOrderIrrelevant(t *testing.T) {
	const n = 200
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("eth1/%d", i)
	}
	c := newController("fab1", ids...)
	a := New([]*models.Controller{c})

	var wg sync.WaitGroup
	for _, id := range ids {
		for _, dir := range models.Directions {
			wg.Add(1)
			go func(id string, dir models.Direction) {
				defer wg.Done()
				assert.NoError(t, a.Record(key("fab1", id), dir, map[string]string{"dir": string(dir)}))
			}(id, dir)
		}
	}
	wg.Wait()

	stats := a.Freeze()
	assert.Equal(t, 2*n, stats.Recorded)
	assert.Zero(t, stats.Overwritten)
	for _, iface := range c.Nodes()[0].Interfaces {
		assert.Equal(t, "ingress", iface.Ingress["dir"])
		assert.Equal(t, "egress", iface.Egress["dir"])
	}
}
