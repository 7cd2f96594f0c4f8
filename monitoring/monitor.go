// Package monitoring serves the state of running drivers over HTTP.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
	"go.uber.org/zap"

	"github.com/sarchlab/bfsaccel/driver"
	"github.com/sarchlab/bfsaccel/hooking"
	"github.com/sarchlab/bfsaccel/monitoring/web"
)

// A Target is a driver that the monitor can report on.
type Target interface {
	Name() string
	Snapshot() driver.Snapshot
}

// Monitor turns a set of drivers into a web server that reports their
// phases, the sessions they ended, and the resources of the process.
//
// A Monitor is also a hook. Attached to drivers, it keeps the most recent
// session summaries.
type Monitor struct {
	portNumber  int
	historySize int
	logger      *zap.Logger

	lock         sync.Mutex
	targets      []Target
	progressBars []*ProgressBar
	sessions     []sessionRsp

	server   *http.Server
	listener net.Listener
}

// NewMonitor creates a new Monitor that listens on a random port.
func NewMonitor() *Monitor {
	return &Monitor{
		historySize: 256,
		logger:      zap.NewNop(),
	}
}

// WithPortNumber sets the port number of the monitor. Zero and privileged
// ports select a random port.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1024 {
		m.logger.Warn("privileged monitor port requested, using a random port",
			zap.Int("port", portNumber))

		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithHistorySize sets how many ended sessions the monitor remembers.
func (m *Monitor) WithHistorySize(n int) *Monitor {
	if n < 1 {
		panic("monitor history must hold at least one session")
	}

	m.historySize = n

	return m
}

// WithLogger sets the logger of the monitor.
func (m *Monitor) WithLogger(logger *zap.Logger) *Monitor {
	m.logger = logger
	return m
}

// RegisterDriver adds a driver to the reported set.
func (m *Monitor) RegisterDriver(t Target) {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, registered := range m.targets {
		if registered.Name() == t.Name() {
			panic(fmt.Sprintf("driver %s is already monitored", t.Name()))
		}
	}

	m.targets = append(m.targets, t)
}

// Func keeps the summary of every session that ends on a hooked driver.
func (m *Monitor) Func(ctx hooking.HookCtx) {
	if ctx.Pos != driver.HookPosSessionEnd {
		return
	}

	summary := ctx.Item.(driver.SessionSummary)
	rsp := sessionRsp{
		ID:       summary.ID,
		Start:    summary.Start,
		NumNodes: summary.NumNodes,
		Outcome:  summary.Outcome,
		Metrics:  toMetricsRsp(summary.Metrics),
	}

	if named, ok := ctx.Domain.(hooking.Named); ok {
		rsp.Driver = named.Name()
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	m.sessions = append(m.sessions, rsp)
	if len(m.sessions) > m.historySize {
		m.sessions = m.sessions[len(m.sessions)-m.historySize:]
	}
}

// CreateProgressBar creates a new progress bar shown on the web page.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        xid.New().String(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar from the web page.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.lock.Lock()
	defer m.lock.Unlock()

	bars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			bars = append(bars, b)
		}
	}

	m.progressBars = bars
}

// Handler returns the routes of the monitor.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/drivers", m.listDrivers).Methods(http.MethodGet)
	r.HandleFunc("/api/driver/{name}", m.driverDetails).Methods(http.MethodGet)
	r.HandleFunc("/api/field/{json}", m.fieldValue).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions", m.listSessions).Methods(http.MethodGet)
	r.HandleFunc("/api/progress", m.listProgressBars).Methods(http.MethodGet)
	r.HandleFunc("/api/resource", m.listResources).Methods(http.MethodGet)
	r.HandleFunc("/api/profile", m.collectProfile).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts serving in the background and returns the URL of the
// web page.
func (m *Monitor) StartServer() (string, error) {
	if m.server != nil {
		panic("monitor server already started")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", m.portNumber))
	if err != nil {
		return "", fmt.Errorf("failed to listen for the monitor: %w", err)
	}

	m.listener = listener
	m.server = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	url := m.URL()
	m.logger.Info("monitoring drivers", zap.String("url", url))

	go func() {
		err := m.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("monitor server stopped", zap.Error(err))
		}
	}()

	return url, nil
}

// URL returns the address of a started server.
func (m *Monitor) URL() string {
	if m.listener == nil {
		panic("monitor server not started")
	}

	return fmt.Sprintf("http://localhost:%d",
		m.listener.Addr().(*net.TCPAddr).Port)
}

// OpenBrowser shows the web page of a started server.
func (m *Monitor) OpenBrowser() error {
	return browser.OpenURL(m.URL())
}

// Shutdown stops a started server.
func (m *Monitor) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}

	return m.server.Shutdown(ctx)
}

type metricsRsp struct {
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
	Cycles           uint64  `json:"cycles"`
	NodesVisited     int     `json:"nodes_visited"`
	EdgesTraversed   int     `json:"edges_traversed"`
	NodesPerSecond   float64 `json:"nodes_per_second"`
	TEPS             float64 `json:"teps"`
	Polls            int     `json:"polls"`
	RegisterReads    uint64  `json:"register_reads"`
	RegisterWrites   uint64  `json:"register_writes"`
	BytesTransferred uint64  `json:"bytes_transferred"`
}

func toMetricsRsp(m driver.Metrics) metricsRsp {
	return metricsRsp{
		ElapsedSeconds:   m.Elapsed.Seconds(),
		Cycles:           m.Cycles,
		NodesVisited:     m.NodesVisited,
		EdgesTraversed:   m.EdgesTraversed,
		NodesPerSecond:   m.NodesPerSecond,
		TEPS:             m.TEPS,
		Polls:            m.Polls,
		RegisterReads:    m.RegisterReads,
		RegisterWrites:   m.RegisterWrites,
		BytesTransferred: m.BytesTransferred,
	}
}

type sessionRsp struct {
	ID       string     `json:"id"`
	Driver   string     `json:"driver,omitempty"`
	Start    uint32     `json:"start"`
	NumNodes int        `json:"num_nodes"`
	Phase    string     `json:"phase,omitempty"`
	Outcome  string     `json:"outcome,omitempty"`
	Metrics  metricsRsp `json:"metrics"`
}

type driverRsp struct {
	Name      string      `json:"name"`
	Phase     string      `json:"phase"`
	Session   *sessionRsp `json:"session,omitempty"`
	Completed int         `json:"completed"`
	TimedOut  int         `json:"timed_out"`
	Faulted   int         `json:"faulted"`
	Last      metricsRsp  `json:"last"`
}

func toDriverRsp(s driver.Snapshot) driverRsp {
	rsp := driverRsp{
		Name:      s.Name,
		Phase:     s.Phase.String(),
		Completed: s.Completed,
		TimedOut:  s.TimedOut,
		Faulted:   s.Faulted,
		Last:      toMetricsRsp(s.Last),
	}

	if s.Session != nil {
		rsp.Session = &sessionRsp{
			ID:       s.Session.ID,
			Start:    s.Session.Start,
			NumNodes: s.Session.NumNodes,
			Phase:    s.Session.Phase.String(),
		}
	}

	return rsp
}

func (m *Monitor) listDrivers(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	targets := append([]Target(nil), m.targets...)
	m.lock.Unlock()

	rsp := make([]driverRsp, 0, len(targets))
	for _, t := range targets {
		rsp = append(rsp, toDriverRsp(t.Snapshot()))
	}

	m.writeJSON(w, rsp)
}

func (m *Monitor) driverDetails(w http.ResponseWriter, r *http.Request) {
	t := m.findDriverOr404(w, mux.Vars(r)["name"])
	if t == nil {
		return
	}

	snapshot := t.Snapshot()

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&snapshot)
	serializer.SetMaxDepth(2)

	w.Header().Set("Content-Type", "application/json")

	if err := serializer.Serialize(w); err != nil {
		m.fail(w, err)
	}
}

type fieldReq struct {
	DriverName string `json:"driver_name,omitempty"`
	FieldName  string `json:"field_name,omitempty"`
}

func (m *Monitor) fieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}

	err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req)
	if err != nil {
		http.Error(w, fmt.Sprintf("bad field request: %s", err),
			http.StatusBadRequest)
		return
	}

	t := m.findDriverOr404(w, req.DriverName)
	if t == nil {
		return
	}

	snapshot := t.Snapshot()

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&snapshot)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if err := serializer.Serialize(w); err != nil {
		m.fail(w, err)
	}
}

func (m *Monitor) findDriverOr404(w http.ResponseWriter, name string) Target {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, t := range m.targets {
		if t.Name() == name {
			return t
		}
	}

	http.Error(w, "Driver not found", http.StatusNotFound)

	return nil
}

func (m *Monitor) listSessions(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	rsp := append([]sessionRsp{}, m.sessions...)
	m.lock.Unlock()

	m.writeJSON(w, rsp)
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	bars := make([]progressBarRsp, 0, len(m.progressBars))

	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}
	m.lock.Unlock()

	m.writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		m.fail(w, err)
		return
	}

	cpuPercent, err := p.CPUPercent()
	if err != nil {
		m.fail(w, err)
		return
	}

	memInfo, err := p.MemoryInfo()
	if err != nil {
		m.fail(w, err)
		return
	}

	m.writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memInfo.RSS,
	})
}

// collectProfile samples the CPU for the duration given by the "duration"
// query parameter, one second by default.
func (m *Monitor) collectProfile(w http.ResponseWriter, r *http.Request) {
	duration := time.Second

	if s := r.URL.Query().Get("duration"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 || d > time.Minute {
			http.Error(w, fmt.Sprintf("invalid duration %q", s),
				http.StatusBadRequest)
			return
		}

		duration = d
	}

	buf := bytes.NewBuffer(nil)

	if err := pprof.StartCPUProfile(buf); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	select {
	case <-time.After(duration):
	case <-r.Context().Done():
	}

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		m.fail(w, err)
		return
	}

	m.writeJSON(w, prof)
}

func (m *Monitor) writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		m.fail(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if _, err := w.Write(data); err != nil {
		m.logger.Debug("failed to write monitor response", zap.Error(err))
	}
}

func (m *Monitor) fail(w http.ResponseWriter, err error) {
	m.logger.Error("monitor request failed", zap.Error(err))
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
