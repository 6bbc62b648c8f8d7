package network

import (
	"context"
	"sync"
	"time"

	"outbox/internal/constants"
	"outbox/internal/models"

	"github.com/sirupsen/logrus"
)

// Prober checks whether the gateway is reachable. Implemented by
// pkg/gateway.Client; a transport-level failure reports (false, nil),
// errors are reserved for probe machinery faults.
type Prober interface {
	Probe(ctx context.Context) (bool, error)
}

// Monitor tracks connectivity and fans state transitions out to listeners.
// It starts optimistic: connectivity is assumed until a probe or an external
// signal says otherwise, so a fresh client attempts its first send
// immediately instead of waiting a poll interval.
type Monitor struct {
	mu        sync.RWMutex
	status    models.NetworkStatus
	listeners []func(models.NetworkStatus)
	running   bool
	stopCh    chan struct{}

	prober       Prober
	pollInterval time.Duration
	metered      bool
	logger       *logrus.Logger

	now func() time.Time
}

func NewMonitor(prober Prober, pollInterval time.Duration, metered bool, logger *logrus.Logger) *Monitor {
	if pollInterval <= 0 {
		pollInterval = time.Duration(constants.DefaultNetworkPollIntervalSec) * time.Second
	}
	return &Monitor{
		status: models.NetworkStatus{
			IsConnected: true,
			Type:        models.NetworkTypeUnknown,
			IsMetered:   metered,
		},
		prober:       prober,
		pollInterval: pollInterval,
		metered:      metered,
		logger:       logger,
		now:          time.Now,
	}
}

// CurrentStatus returns the last known connectivity snapshot.
func (m *Monitor) CurrentStatus() models.NetworkStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsConnected reports the last known connectivity.
func (m *Monitor) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.IsConnected
}

// OnChange registers a listener invoked on every offline/online transition.
// Listeners are called synchronously, outside the monitor lock, in
// registration order. Registration is not supported after Start.
func (m *Monitor) OnChange(fn func(models.NetworkStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// SetOnline records an externally observed connectivity edge, e.g. from the
// websocket watcher or an OS reachability hint.
func (m *Monitor) SetOnline(online bool, via string) {
	m.apply(online, via)
}

// Refresh performs one active probe and applies the result. Used on app
// foreground and before the processor gives up on a pass.
func (m *Monitor) Refresh(ctx context.Context) models.NetworkStatus {
	if m.prober == nil {
		return m.CurrentStatus()
	}

	probeCtx, cancel := context.WithTimeout(ctx, time.Duration(constants.DefaultProbeTimeoutSec)*time.Second)
	defer cancel()

	connected, err := m.prober.Probe(probeCtx)
	if err != nil {
		m.logger.WithError(err).Warn("Network probe failed")
		return m.CurrentStatus()
	}

	return m.apply(connected, models.NetworkTypeProbe)
}

// Start launches the periodic probe loop.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.logger.Warn("Network monitor is already running")
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	go m.pollLoop(ctx)
	m.logger.WithField("interval", m.pollInterval).Info("Network monitor started")
}

// Stop halts the probe loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	close(m.stopCh)
	m.stopCh = nil
	m.running = false
	m.logger.Info("Network monitor stopped")
}

func (m *Monitor) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.getStopCh():
			return
		case <-ticker.C:
			m.Refresh(ctx)
		}
	}
}

func (m *Monitor) getStopCh() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCh == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return m.stopCh
}

// apply updates the snapshot and notifies listeners when the connected flag
// flipped. The LastChecked timestamp advances on every observation.
func (m *Monitor) apply(connected bool, via string) models.NetworkStatus {
	m.mu.Lock()
	changed := m.status.IsConnected != connected
	m.status.IsConnected = connected
	m.status.Type = via
	m.status.IsMetered = m.metered
	m.status.LastChecked = m.now()
	status := m.status
	listeners := m.listeners
	m.mu.Unlock()

	if !changed {
		return status
	}

	if connected {
		m.logger.WithField("via", via).Info("Network connectivity restored")
	} else {
		m.logger.WithField("via", via).Warn("Network connectivity lost")
	}
	for _, fn := range listeners {
		fn(status)
	}
	return status
}
