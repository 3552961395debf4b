// Package health runs periodic self-checks and serves the liveness and
// readiness probe handlers.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// CheckResult is the outcome of one named probe
type CheckResult struct {
	Name      string
	Status    string
	Message   string
	Timestamp time.Time
}

// Probe is an externally supplied check, registered by the components whose
// internals the checker cannot see
type Probe func() CheckResult

// Checker runs filesystem probes plus any registered component probes on a
// fixed cadence and aggregates them into liveness and readiness.
type Checker struct {
	peerID  string
	dataDir string
	logger  *zap.Logger

	mu          sync.RWMutex
	lastCheck   time.Time
	checks      map[string]CheckResult
	probes      []Probe
	livenessOK  bool
	readinessOK bool
}

// NewChecker creates a checker for the given peer and data directory
func NewChecker(peerID, dataDir string, logger *zap.Logger) *Checker {
	return &Checker{
		peerID:      peerID,
		dataDir:     dataDir,
		logger:      logger,
		checks:      make(map[string]CheckResult),
		livenessOK:  true,
		readinessOK: true,
	}
}

// RegisterProbe adds a component probe evaluated on every cycle
func (h *Checker) RegisterProbe(p Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, p)
}

// Start runs the check loop until ctx is canceled
func (h *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	h.runChecks()

	for {
		select {
		case <-ticker.C:
			h.runChecks()
		case <-ctx.Done():
			h.logger.Info("Health checker stopped")
			return
		}
	}
}

func (h *Checker) runChecks() {
	h.mu.Lock()
	probes := append([]Probe{}, h.probes...)
	h.mu.Unlock()

	results := []CheckResult{
		h.checkDiskSpace(),
		h.checkDataDirWritable(),
	}
	for _, p := range probes {
		results = append(results, p())
	}

	allReady := true
	for _, r := range results {
		if r.Status == "critical" {
			allReady = false
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastCheck = time.Now()
	for _, r := range results {
		h.checks[r.Name] = r
	}
	// Reaching here means the loop is alive
	h.livenessOK = true
	h.readinessOK = allReady

	h.logger.Debug("Health check completed",
		zap.Bool("liveness", h.livenessOK),
		zap.Bool("readiness", h.readinessOK))
}

func (h *Checker) checkDiskSpace() CheckResult {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(h.dataDir, &stat); err != nil {
		return CheckResult{
			Name:      "disk_space",
			Status:    "critical",
			Message:   fmt.Sprintf("Failed to stat filesystem: %v", err),
			Timestamp: time.Now(),
		}
	}

	total := stat.Blocks * uint64(stat.Bsize)
	used := total - (stat.Bfree * uint64(stat.Bsize))
	usagePercent := float64(used) / float64(total) * 100

	status := "healthy"
	switch {
	case usagePercent > 95:
		status = "critical"
	case usagePercent > 90:
		status = "warning"
	}

	return CheckResult{
		Name:      "disk_space",
		Status:    status,
		Message:   fmt.Sprintf("Disk usage: %.2f%%", usagePercent),
		Timestamp: time.Now(),
	}
}

func (h *Checker) checkDataDirWritable() CheckResult {
	info, err := os.Stat(h.dataDir)
	if err != nil || !info.IsDir() {
		return CheckResult{
			Name:      "data_dir_writable",
			Status:    "critical",
			Message:   fmt.Sprintf("Data directory not accessible: %v", err),
			Timestamp: time.Now(),
		}
	}

	testFile := filepath.Join(h.dataDir, fmt.Sprintf(".health_check_%d", time.Now().UnixNano()))
	f, err := os.Create(testFile)
	if err != nil {
		return CheckResult{
			Name:      "data_dir_writable",
			Status:    "critical",
			Message:   fmt.Sprintf("Cannot write to data directory: %v", err),
			Timestamp: time.Now(),
		}
	}
	f.Close()
	os.Remove(testFile)

	return CheckResult{
		Name:      "data_dir_writable",
		Status:    "healthy",
		Message:   "Data directory is writable",
		Timestamp: time.Now(),
	}
}

// IsLive reports the liveness probe result
func (h *Checker) IsLive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.livenessOK
}

// IsReady reports the readiness probe result
func (h *Checker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readinessOK
}

// Checks returns a copy of the latest results
func (h *Checker) Checks() map[string]CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]CheckResult, len(h.checks))
	for k, v := range h.checks {
		out[k] = v
	}
	return out
}

// SetReadiness forces readiness off, used during graceful shutdown
func (h *Checker) SetReadiness(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessOK = ready
}

// LivenessHandler serves the liveness probe
func (h *Checker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	h.writeProbe(w, h.IsLive(), "healthy")
}

// ReadinessHandler serves the readiness probe
func (h *Checker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.writeProbe(w, h.IsReady(), "ready")
}

func (h *Checker) writeProbe(w http.ResponseWriter, ok bool, key string) {
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		key:       ok,
		"peer_id": h.peerID,
	})
}
