package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-aqara/internal/bridges/aqara"
)

const mib = 1 << 20

// SystemMetrics is the JSON document at /api/v1/metrics. Prometheus
// scrapes /metrics.
type SystemMetrics struct {
	Timestamp     time.Time           `json:"timestamp"`
	Version       string              `json:"version"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Runtime       RuntimeMetrics      `json:"runtime"`
	MQTT          *MQTTMetrics        `json:"mqtt,omitempty"`
	Bridge        aqara.BridgeMetrics `json:"aqara_bridge"`
	Accessories   AccessoryMetrics    `json:"accessories"`
}

// RuntimeMetrics is a small slice of runtime.MemStats.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	HeapAllocMB   float64 `json:"heap_alloc_mb"`
	TotalAllocMB  float64 `json:"total_alloc_mb"`
	GCCycles      uint32  `json:"gc_cycles"`
	LastGCPauseUS uint64  `json:"last_gc_pause_us"`
}

// MQTTMetrics reports the broker link.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// AccessoryMetrics counts published accessories per kind.
type AccessoryMetrics struct {
	Total  int            `json:"total"`
	ByKind map[string]int `json:"by_kind"`
}

func readRuntime() RuntimeMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	rt := RuntimeMetrics{
		Goroutines:   runtime.NumGoroutine(),
		HeapAllocMB:  float64(ms.HeapAlloc) / mib,
		TotalAllocMB: float64(ms.TotalAlloc) / mib,
		GCCycles:     ms.NumGC,
	}
	if ms.NumGC > 0 {
		rt.LastGCPauseUS = ms.PauseNs[(ms.NumGC+255)%256] / 1e3
	}
	return rt
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	out := SystemMetrics{
		Timestamp:     time.Now().UTC(),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime) / time.Second),
		Runtime:       readRuntime(),
		Bridge:        s.bridge.GetMetrics(),
		Accessories:   AccessoryMetrics{ByKind: map[string]int{}},
	}
	if s.mqtt != nil {
		out.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}
	all := s.accessories.List()
	for _, a := range all {
		out.Accessories.ByKind[string(a.Kind)]++
	}
	out.Accessories.Total = len(all)

	writeJSON(w, http.StatusOK, out)
}
