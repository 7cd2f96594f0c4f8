package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/bfsaccel/device"
	"github.com/sarchlab/bfsaccel/dma"
	"github.com/sarchlab/bfsaccel/driver"
	"github.com/sarchlab/bfsaccel/graph"
	"github.com/sarchlab/bfsaccel/hooking"
)

type fakeTarget struct {
	snapshot driver.Snapshot
}

func (t *fakeTarget) Name() string {
	return t.snapshot.Name
}

func (t *fakeTarget) Snapshot() driver.Snapshot {
	return t.snapshot
}

type fakeDomain struct {
	hooking.HookableBase
	name string
}

func (d *fakeDomain) Name() string {
	return d.name
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

	return w
}

func sessionEnd(domain hooking.Hookable, id string) hooking.HookCtx {
	return hooking.HookCtx{
		Domain: domain,
		Pos:    driver.HookPosSessionEnd,
		Item: driver.SessionSummary{
			Session: driver.Session{ID: id, Start: 3, NumNodes: 10},
			Outcome: "done",
			Metrics: driver.Metrics{
				Elapsed:      2 * time.Millisecond,
				NodesVisited: 7,
			},
		},
	}
}

var _ = Describe("Monitor", func() {
	var (
		m *Monitor
		h http.Handler
	)

	BeforeEach(func() {
		m = NewMonitor()
		h = m.Handler()
	})

	It("should list registered drivers", func() {
		m.RegisterDriver(&fakeTarget{snapshot: driver.Snapshot{
			Name:      "D0",
			Phase:     driver.Running,
			Session:   &driver.Session{ID: "s", Start: 4, Phase: driver.Running},
			Completed: 2,
		}})
		m.RegisterDriver(&fakeTarget{snapshot: driver.Snapshot{Name: "D1"}})

		w := get(h, "/api/drivers")

		Expect(w.Code).To(Equal(http.StatusOK))

		var rsp []driverRsp
		Expect(json.Unmarshal(w.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp).To(HaveLen(2))
		Expect(rsp[0].Name).To(Equal("D0"))
		Expect(rsp[0].Phase).To(Equal("Running"))
		Expect(rsp[0].Session.Start).To(Equal(uint32(4)))
		Expect(rsp[0].Completed).To(Equal(2))
		Expect(rsp[1].Phase).To(Equal("Idle"))
		Expect(rsp[1].Session).To(BeNil())
	})

	It("should reject a second driver with the same name", func() {
		m.RegisterDriver(&fakeTarget{snapshot: driver.Snapshot{Name: "D0"}})

		Expect(func() {
			m.RegisterDriver(&fakeTarget{snapshot: driver.Snapshot{Name: "D0"}})
		}).To(Panic())
	})

	It("should serialize a driver snapshot", func() {
		m.RegisterDriver(&fakeTarget{snapshot: driver.Snapshot{
			Name:      "D0",
			Completed: 5,
		}})

		w := get(h, "/api/driver/D0")

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.Len()).To(BeNumerically(">", 0))
	})

	It("should serialize a field of a driver snapshot", func() {
		m.RegisterDriver(&fakeTarget{snapshot: driver.Snapshot{
			Name: "D0",
			Last: driver.Metrics{Polls: 17},
		}})

		req := url.PathEscape(`{"driver_name":"D0","field_name":"Last"}`)
		w := get(h, "/api/field/"+req)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.Len()).To(BeNumerically(">", 0))
	})

	It("should report unknown drivers", func() {
		Expect(get(h, "/api/driver/nope").Code).To(Equal(http.StatusNotFound))

		req := url.PathEscape(`{"driver_name":"nope","field_name":"Last"}`)
		Expect(get(h, "/api/field/"+req).Code).To(Equal(http.StatusNotFound))
	})

	It("should reject malformed field requests", func() {
		w := get(h, "/api/field/"+url.PathEscape("{"))

		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("should keep ended sessions", func() {
		domain := &fakeDomain{name: "D0"}

		m.Func(sessionEnd(domain, "a"))
		m.Func(hooking.HookCtx{Domain: domain, Pos: driver.HookPosPhaseChange})

		w := get(h, "/api/sessions")

		var rsp []sessionRsp
		Expect(json.Unmarshal(w.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp).To(HaveLen(1))
		Expect(rsp[0].ID).To(Equal("a"))
		Expect(rsp[0].Driver).To(Equal("D0"))
		Expect(rsp[0].Outcome).To(Equal("done"))
		Expect(rsp[0].Metrics.NodesVisited).To(Equal(7))
		Expect(rsp[0].Metrics.ElapsedSeconds).To(BeNumerically("~", 0.002))
	})

	It("should forget the oldest sessions", func() {
		m.WithHistorySize(2)
		domain := &fakeDomain{name: "D0"}

		for _, id := range []string{"a", "b", "c"} {
			m.Func(sessionEnd(domain, id))
		}

		Expect(m.sessions).To(HaveLen(2))
		Expect(m.sessions[0].ID).To(Equal("b"))
		Expect(m.sessions[1].ID).To(Equal("c"))
	})

	It("should track progress bars", func() {
		bar := m.CreateProgressBar("run", 3)
		bar.Begin()
		bar.Begin()
		bar.End(nil)
		bar.End(errors.New("timeout"))
		bar.Begin()

		var rsp []progressBarRsp
		w := get(h, "/api/progress")
		Expect(json.Unmarshal(w.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp).To(HaveLen(1))
		Expect(rsp[0].Name).To(Equal("run"))
		Expect(rsp[0].Total).To(Equal(uint64(3)))
		Expect(rsp[0].Succeeded).To(Equal(uint64(1)))
		Expect(rsp[0].Failed).To(Equal(uint64(1)))
		Expect(rsp[0].Running).To(Equal(uint64(1)))

		m.CompleteProgressBar(bar)

		w = get(h, "/api/progress")
		Expect(w.Body.String()).To(Equal("[]"))
	})

	It("should panic when ending a traversal that never began", func() {
		bar := m.CreateProgressBar("run", 1)

		Expect(func() { bar.End(nil) }).To(Panic())
	})

	It("should report process resources", func() {
		w := get(h, "/api/resource")

		Expect(w.Code).To(Equal(http.StatusOK))

		var rsp resourceRsp
		Expect(json.Unmarshal(w.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.MemorySize).To(BeNumerically(">", 0))
	})

	It("should collect a short profile", func() {
		w := get(h, "/api/profile?duration=50ms")

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring("SampleType"))
	})

	It("should reject a bad profile duration", func() {
		Expect(get(h, "/api/profile?duration=soon").Code).
			To(Equal(http.StatusBadRequest))
	})

	It("should export driver metrics", func() {
		w := get(h, "/metrics")

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).
			To(ContainSubstring("bfsaccel_traversal_duration_seconds"))
	})

	It("should serve the web page", func() {
		w := get(h, "/")

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(HavePrefix("<!DOCTYPE html>"))
	})

	It("should serve over TCP until shut down", func() {
		url, err := m.StartServer()
		Expect(err).NotTo(HaveOccurred())

		rsp, err := http.Get(url + "/api/drivers")
		Expect(err).NotTo(HaveOccurred())

		body, err := io.ReadAll(rsp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(rsp.Body.Close()).To(Succeed())
		Expect(string(body)).To(Equal("[]"))

		Expect(m.Shutdown(context.Background())).To(Succeed())
	})

	It("should follow a driver on a simulated device", func() {
		cfg := device.DefaultConfig()
		cfg.Stride = 4
		cfg.Memory = dma.Config{Base: 0x10000, Size: 1 << 16, Alignment: 256}

		platform, err := device.NewPlatform(cfg, nil)
		Expect(err).NotTo(HaveOccurred())
		defer platform.Close()

		d := driver.MakeBuilder().
			WithPlatform(platform).
			WithStride(cfg.Stride).
			WithPollInterval(10 * time.Microsecond).
			Build("Driver")
		d.AcceptHook(m)
		m.RegisterDriver(d)

		_, _, err = d.Run(0, graph.Graph{{1, 2}, {3}, {3}, {}})
		Expect(err).NotTo(HaveOccurred())

		var drivers []driverRsp
		w := get(h, "/api/drivers")
		Expect(json.Unmarshal(w.Body.Bytes(), &drivers)).To(Succeed())
		Expect(drivers).To(HaveLen(1))
		Expect(drivers[0].Phase).To(Equal("Idle"))
		Expect(drivers[0].Completed).To(Equal(1))
		Expect(drivers[0].Last.NodesVisited).To(Equal(4))

		var sessions []sessionRsp
		w = get(h, "/api/sessions")
		Expect(json.Unmarshal(w.Body.Bytes(), &sessions)).To(Succeed())
		Expect(sessions).To(HaveLen(1))
		Expect(sessions[0].Driver).To(Equal("Driver"))
		Expect(sessions[0].Outcome).To(Equal("done"))
		Expect(sessions[0].Metrics.EdgesTraversed).To(Equal(4))
	})
})
