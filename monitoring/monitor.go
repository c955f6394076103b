// Package monitoring turns a running VM into a small HTTP server that
// reports execution and memory-system statistics.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"

	"github.com/sarchlab/vmcore/exec/aotcache"
	"github.com/sarchlab/vmcore/exec/executor"
	"github.com/sarchlab/vmcore/exec/hotspot"
	"github.com/sarchlab/vmcore/mem/vm/tlb"
)

// Monitor serves the statistics of one VM over HTTP.
type Monitor struct {
	portNumber int

	tlb     *tlb.Comp
	exec    *executor.Comp
	cache   *aotcache.Comp
	tracker *hotspot.Tracker
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n",
			portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterTLB registers the TLB to be monitored.
func (m *Monitor) RegisterTLB(t *tlb.Comp) {
	m.tlb = t
}

// RegisterExecutor registers the executor to be monitored, including its
// hotspot tracker.
func (m *Monitor) RegisterExecutor(e *executor.Comp) {
	m.exec = e
	m.tracker = e.Tracker()
}

// RegisterCache registers the artifact cache to be monitored.
func (m *Monitor) RegisterCache(c *aotcache.Comp) {
	m.cache = c
}

// StartServer starts the monitor as a web server. It returns the port it
// listens on.
func (m *Monitor) StartServer() int {
	r := mux.NewRouter()

	r.HandleFunc("/api/stats/tlb", m.tlbStats)
	r.HandleFunc("/api/stats/executor", m.executorStats)
	r.HandleFunc("/api/stats/cache", m.cacheStats)
	r.HandleFunc("/api/hotblocks", m.hotBlocks)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)

	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	port := listener.Addr().(*net.TCPAddr).Port
	fmt.Fprintf(os.Stderr,
		"Monitoring VM with http://localhost:%d\n", port)

	go func() {
		err = http.Serve(listener, r)
		dieOnErr(err)
	}()

	return port
}

func (m *Monitor) tlbStats(w http.ResponseWriter, _ *http.Request) {
	if m.tlb == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, m.tlb.Stats())
}

func (m *Monitor) executorStats(w http.ResponseWriter, _ *http.Request) {
	if m.exec == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, m.exec.Stats())
}

func (m *Monitor) cacheStats(w http.ResponseWriter, _ *http.Request) {
	if m.cache == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, m.cache.Stats())
}

type hotBlockRsp struct {
	Addr  string `json:"addr"`
	Count uint64 `json:"count"`
	State string `json:"state"`
}

func (m *Monitor) hotBlocks(w http.ResponseWriter, r *http.Request) {
	if m.tracker == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	n := 20
	if s := r.URL.Query().Get("n"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil || parsed < 0 {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "Invalid n: %s", s)
			return
		}
		n = parsed
	}

	rows := m.tracker.TopBlocks(n)
	rsp := make([]hotBlockRsp, 0, len(rows))
	for _, row := range rows {
		rsp = append(rsp, hotBlockRsp{
			Addr:  fmt.Sprintf("%#x", uint64(row.Addr)),
			Count: row.Count,
			State: row.State.String(),
		})
	}
	writeJSON(w, rsp)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	proc, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := proc.CPUPercent()
	dieOnErr(err)

	memoryInfo, err := proc.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memoryInfo.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(v)
	dieOnErr(err)

	_, err = w.Write(data)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
