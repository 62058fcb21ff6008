package monitoring

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rcourtman/fabricpulse/internal/models"
	"github.com/rcourtman/fabricpulse/internal/output"
	"github.com/rcourtman/fabricpulse/pkg/fabric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNoSession = errors.New("no session")

// fakeAPI is an in-memory controller. seq orders observations across every
// fake sharing it.
type fakeAPI struct {
	seq *atomic.Int64

	loginErr   error
	loginHang  chan struct{}
	nodes      []fabric.Object
	ifaces     map[string][]fabric.Object
	faults     []fabric.Object
	statsErr   func(ifID, class string) error
	statsDelay time.Duration

	mu          sync.Mutex
	stage1Done  []int64
	stage2Start []int64
	statsCalls  map[string]int

	inFlight atomic.Int32
	peak     atomic.Int32
}

func newFakeAPI(seq *atomic.Int64) *fakeAPI {
	return &fakeAPI{seq: seq, ifaces: map[string][]fabric.Object{}, statsCalls: map[string]int{}}
}

func jitter() {
	time.Sleep(time.Duration(rand.Intn(2000)) * time.Microsecond)
}

func (f *fakeAPI) markStage1() {
	f.mu.Lock()
	f.stage1Done = append(f.stage1Done, f.seq.Add(1))
	f.mu.Unlock()
}

func (f *fakeAPI) markStage2() {
	f.mu.Lock()
	f.stage2Start = append(f.stage2Start, f.seq.Add(1))
	f.mu.Unlock()
}

func (f *fakeAPI) Login(context.Context) (fabric.Session, error) {
	if f.loginHang != nil {
		<-f.loginHang
	}
	jitter()
	defer f.markStage1()
	if f.loginErr != nil {
		return fabric.Session{}, f.loginErr
	}
	return fabric.Session{Token: "tok", CreatedAt: time.Now()}, nil
}

func (f *fakeAPI) Capacity(_ context.Context, s fabric.Session) ([]fabric.Object, error) {
	f.markStage2()
	if !s.Valid() {
		return nil, errNoSession
	}
	return []fabric.Object{{Class: fabric.ClassPolicerUsage, Attrs: map[string]string{"dn": "topology/pod-1/node-101/sys/cap"}}}, nil
}

func (f *fakeAPI) Faults(_ context.Context, s fabric.Session) ([]fabric.Object, error) {
	f.markStage2()
	if !s.Valid() {
		return nil, errNoSession
	}
	return f.faults, nil
}

func (f *fakeAPI) Nodes(_ context.Context, s fabric.Session) ([]fabric.Object, error) {
	f.markStage2()
	if !s.Valid() {
		return nil, errNoSession
	}
	return f.nodes, nil
}

func (f *fakeAPI) Interfaces(_ context.Context, s fabric.Session, nodeDN string) ([]fabric.Object, error) {
	jitter()
	if !s.Valid() {
		return nil, errNoSession
	}
	return f.ifaces[nodeDN], nil
}

func (f *fakeAPI) InterfaceStats(_ context.Context, s fabric.Session, nodeDN, ifID, class string) (map[string]string, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if cur <= p || f.peak.CompareAndSwap(p, cur) {
			break
		}
	}

	f.mu.Lock()
	f.statsCalls[nodeDN+"|"+ifID+"|"+class]++
	f.mu.Unlock()

	time.Sleep(f.statsDelay)
	if !s.Valid() {
		return nil, errNoSession
	}
	if f.statsErr != nil {
		if err := f.statsErr(ifID, class); err != nil {
			return nil, err
		}
	}
	return map[string]string{"bytesRate": "1", "class": class}, nil
}

func nodeObj(id, state string) fabric.Object {
	return fabric.Object{Class: fabric.ClassFabricNode, Attrs: map[string]string{
		"id": id, "dn": "topology/pod-1/node-" + id, "fabricSt": state, "role": "leaf",
	}}
}

func ifaceObj(id, adminSt string) fabric.Object {
	return fabric.Object{Class: fabric.ClassPhysIf, Attrs: map[string]string{
		"id": id, "adminSt": adminSt, "usage": "epg",
	}}
}

type fakeLocator struct {
	seq  *atomic.Int64
	apis map[string]*fakeAPI
}

func (l *fakeLocator) NodeID(_ context.Context, label string) (string, error) {
	jitter()
	defer l.apis[label].markStage1()
	return "id-" + label, nil
}

type fakeEvents struct {
	mu   sync.Mutex
	sent []string
	fail bool
}

func (e *fakeEvents) Send(_ context.Context, c *models.Controller, fault models.Fault) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, c.Name+":"+c.NodeID()+":"+models.NormalizeSeverity(fault.Severity()))
	if e.fail {
		return errors.New("refused")
	}
	return nil
}

type fakeOutput struct {
	controllers []*models.Controller
}

func (o *fakeOutput) WriteAll(_ context.Context, controllers []*models.Controller) output.Result {
	o.controllers = controllers
	return output.Result{Written: []string{"a", "b"}}
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, Options{Concurrency: 1})
	assert.Error(t, err)

	var seq atomic.Int64
	api := newFakeAPI(&seq)
	_, err = New([]Target{{Name: "a", API: api}}, Options{Concurrency: 0})
	assert.Error(t, err)

	_, err = New([]Target{{Name: "a", API: api}, {Name: "a", API: api}}, Options{Concurrency: 1})
	assert.Error(t, err)

	_, err = New([]Target{{Name: "a"}}, Options{Concurrency: 1})
	assert.Error(t, err)

	p, err := New([]Target{{Name: "a", API: api}, {Name: "b", API: api}}, Options{Concurrency: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, p.Controllers())
}

func TestRunStageOrdering(t *testing.T) {
	var seq atomic.Int64
	apis := map[string]*fakeAPI{}
	var targets []Target
	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("fab%d", i)
		api := newFakeAPI(&seq)
		api.nodes = []fabric.Object{nodeObj("101", models.NodeStateActive)}
		api.faults = []fabric.Object{{Class: fabric.ClassFault, Attrs: map[string]string{"severity": "major"}}}
		apis[name] = api
		targets = append(targets, Target{Name: name, Address: "10.0.0.1", Hostname: name, API: api})
	}

	events := &fakeEvents{}
	p, err := New(targets, Options{
		Concurrency: 2,
		Locator:     &fakeLocator{seq: &seq, apis: apis},
		Events:      events,
	})
	require.NoError(t, err)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	var lastStage1, firstStage2 int64 = 0, 1 << 62
	for _, api := range apis {
		require.Len(t, api.stage1Done, 2, "login and node lookup")
		require.Len(t, api.stage2Start, 3, "capacity, faults and nodes")
		for _, s := range api.stage1Done {
			lastStage1 = max(lastStage1, s)
		}
		for _, s := range api.stage2Start {
			firstStage2 = min(firstStage2, s)
		}
	}
	assert.Less(t, lastStage1, firstStage2, "stage 2 started before stage 1 completed")

	assert.Equal(t, 4, summary.LoggedIn)
	assert.Equal(t, 4, summary.Faults)
	assert.Equal(t, 4, summary.EventsSent)
	assert.NotEmpty(t, summary.RunID)

	// Stage 3 saw the node IDs resolved in Stage 1.
	assert.ElementsMatch(t, []string{
		"fab0:id-fab0:Major", "fab1:id-fab1:Major", "fab2:id-fab2:Major", "fab3:id-fab3:Major",
	}, events.sent)
}

func TestRunSchedulesTwoJobsPerUpInterface(t *testing.T) {
	var seq atomic.Int64
	api := newFakeAPI(&seq)
	api.nodes = []fabric.Object{nodeObj("101", models.NodeStateActive), nodeObj("102", "inactive")}
	api.ifaces["topology/pod-1/node-101"] = []fabric.Object{
		ifaceObj("eth1/1", "up"), ifaceObj("eth1/2", "down"), ifaceObj("eth1/3", "up"),
	}
	api.ifaces["topology/pod-1/node-102"] = []fabric.Object{ifaceObj("eth1/1", "up")}

	out := &fakeOutput{}
	p, err := New([]Target{{Name: "fab1", API: api}}, Options{Concurrency: 10, Output: out})
	require.NoError(t, err)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, summary.JobsScheduled)
	assert.Equal(t, 2, summary.Nodes)
	assert.Equal(t, 3, summary.Interfaces, "inactive nodes are not expanded")
	assert.Equal(t, []string{"a", "b"}, summary.FilesWritten)
	assert.Equal(t, map[string]int{
		"topology/pod-1/node-101|eth1/1|" + fabric.ClassIngressStats: 1,
		"topology/pod-1/node-101|eth1/1|" + fabric.ClassEgressStats:  1,
		"topology/pod-1/node-101|eth1/3|" + fabric.ClassIngressStats: 1,
		"topology/pod-1/node-101|eth1/3|" + fabric.ClassEgressStats:  1,
	}, api.statsCalls)

	require.Len(t, out.controllers, 1)
	ifaces := out.controllers[0].Nodes()[0].Interfaces
	assert.Equal(t, fabric.ClassIngressStats, ifaces[0].Ingress["class"])
	assert.Equal(t, fabric.ClassEgressStats, ifaces[0].Egress["class"])
	assert.False(t, ifaces[1].HasStats())
	assert.Same(t, out.controllers[0], summary.Result[0])
}

func TestRunBoundsConcurrencyPerController(t *testing.T) {
	var seq atomic.Int64
	const ifCount = 25
	const k = 3

	var targets []Target
	var apis []*fakeAPI
	for i := 0; i < 3; i++ {
		api := newFakeAPI(&seq)
		api.statsDelay = time.Millisecond
		api.nodes = []fabric.Object{nodeObj("101", models.NodeStateActive)}
		for j := 0; j < ifCount; j++ {
			api.ifaces["topology/pod-1/node-101"] = append(api.ifaces["topology/pod-1/node-101"], ifaceObj(fmt.Sprintf("eth1/%d", j), "up"))
		}
		apis = append(apis, api)
		targets = append(targets, Target{Name: fmt.Sprintf("fab%d", i), API: api})
	}

	p, err := New(targets, Options{Concurrency: k})
	require.NoError(t, err)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3*ifCount*2, summary.JobsScheduled)

	for _, api := range apis {
		assert.LessOrEqual(t, int(api.peak.Load()), k)
		assert.Len(t, api.statsCalls, ifCount*2)
		for key, n := range api.statsCalls {
			assert.Equal(t, 1, n, "job %s attempted %d times", key, n)
		}
	}
}

func TestRunFailedStatsContributeNothing(t *testing.T) {
	var seq atomic.Int64
	api := newFakeAPI(&seq)
	api.nodes = []fabric.Object{nodeObj("101", models.NodeStateActive)}
	api.ifaces["topology/pod-1/node-101"] = []fabric.Object{ifaceObj("eth1/1", "up")}
	api.statsErr = func(_, class string) error {
		if class == fabric.ClassIngressStats {
			return errors.New("boom")
		}
		return nil
	}

	p, err := New([]Target{{Name: "fab1", API: api}}, Options{Concurrency: 1})
	require.NoError(t, err)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.JobsFailed)

	iface := summary.Result[0].Nodes()[0].Interfaces[0]
	assert.Empty(t, iface.Ingress)
	assert.NotEmpty(t, iface.Egress)
	assert.True(t, iface.HasStats())
}

func TestRunDegradedLogin(t *testing.T) {
	var seq atomic.Int64
	bad := newFakeAPI(&seq)
	bad.loginErr = errors.New("401")
	bad.nodes = []fabric.Object{nodeObj("101", models.NodeStateActive)}

	good := newFakeAPI(&seq)
	good.nodes = []fabric.Object{nodeObj("201", models.NodeStateActive)}
	good.ifaces["topology/pod-1/node-201"] = []fabric.Object{ifaceObj("eth1/1", "up")}
	good.faults = []fabric.Object{{Attrs: map[string]string{"severity": "info"}}}

	events := &fakeEvents{fail: true}
	p, err := New([]Target{{Name: "bad", API: bad}, {Name: "good", API: good}}, Options{Concurrency: 2, Events: events})
	require.NoError(t, err)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.LoggedIn)
	// The degraded controller still went through stage 2, each call failing on its own.
	assert.Len(t, bad.stage2Start, 3)
	assert.Empty(t, summary.Result[0].Nodes())
	assert.Len(t, summary.Result[1].Nodes(), 1)
	assert.Equal(t, 2, summary.JobsScheduled)
	assert.Equal(t, 1, summary.EventsFailed)
	assert.Equal(t, []string{"good::Normal"}, events.sent)
}

func TestRunStalledRequestHonoursDeadline(t *testing.T) {
	var seq atomic.Int64
	api := newFakeAPI(&seq)
	api.loginHang = make(chan struct{})
	defer close(api.loginHang)

	p, err := New([]Target{{Name: "fab1", API: api}}, Options{Concurrency: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "stage1")
}

func TestRunFreshModelPerCycle(t *testing.T) {
	var seq atomic.Int64
	api := newFakeAPI(&seq)
	api.nodes = []fabric.Object{nodeObj("101", models.NodeStateActive)}

	p, err := New([]Target{{Name: "fab1", API: api}}, Options{Concurrency: 1})
	require.NoError(t, err)

	first, err := p.Run(context.Background())
	require.NoError(t, err)
	second, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.NotSame(t, first.Result[0], second.Result[0])
	assert.Len(t, second.Result[0].Nodes(), 1)
	assert.NotEqual(t, first.RunID, second.RunID)
}
