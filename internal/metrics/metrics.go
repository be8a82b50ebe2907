// Package metrics registers Prometheus counters and gauges describing
// session, source, and sync health for the debug/stats HTTP surface.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge moqview-play exposes.
type Metrics struct {
	registry *prometheus.Registry

	sessionConnectsTotal    prometheus.Counter
	sessionDisconnectsTotal prometheus.Counter
	groupsLostTotal         prometheus.Counter
	renditionSwitchesTotal  prometheus.Counter
	catalogErrorsTotal      prometheus.Counter

	framesReceived  *prometheus.CounterVec
	bytesReceived   *prometheus.CounterVec
	syncStatus      prometheus.Gauge
	bufferFilled    prometheus.Gauge
	presentationLag prometheus.Gauge
}

// New creates and registers every metric on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		sessionConnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moqview_session_connects_total",
			Help: "Total number of successful session connections.",
		}),
		sessionDisconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moqview_session_disconnects_total",
			Help: "Total number of session disconnections.",
		}),
		groupsLostTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moqview_groups_lost_total",
			Help: "Total number of groups that ended in a stream reset rather than a clean close.",
		}),
		renditionSwitchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moqview_rendition_switches_total",
			Help: "Total number of times the active video rendition changed.",
		}),
		catalogErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moqview_catalog_errors_total",
			Help: "Total number of catalog documents rejected as malformed.",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moqview_frames_received_total",
			Help: "Total number of frames published to presentation, by media kind.",
		}, []string{"kind"}),
		bytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moqview_bytes_received_total",
			Help: "Total number of payload bytes received, by media kind.",
		}, []string{"kind"}),
		syncStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "moqview_sync_status",
			Help: "1 if the presentation clock is in the play state, 0 if waiting.",
		}),
		bufferFilled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "moqview_buffer_filled",
			Help: "1 if the video source's buffer status is filled, 0 if empty.",
		}),
		presentationLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "moqview_presentation_lag_seconds",
			Help: "Difference between the most recently received and most recently presented producer timestamps.",
		}),
	}

	registry.MustRegister(
		m.sessionConnectsTotal,
		m.sessionDisconnectsTotal,
		m.groupsLostTotal,
		m.renditionSwitchesTotal,
		m.catalogErrorsTotal,
		m.framesReceived,
		m.bytesReceived,
		m.syncStatus,
		m.bufferFilled,
		m.presentationLag,
	)

	return m
}

func (m *Metrics) IncSessionConnects()    { m.sessionConnectsTotal.Inc() }
func (m *Metrics) IncSessionDisconnects() { m.sessionDisconnectsTotal.Inc() }
func (m *Metrics) IncGroupsLost()         { m.groupsLostTotal.Inc() }
func (m *Metrics) IncRenditionSwitches()  { m.renditionSwitchesTotal.Inc() }
func (m *Metrics) IncCatalogErrors()      { m.catalogErrorsTotal.Inc() }

// ObserveFrames adds frames and bytes to the given media kind's ("video"
// or "audio") counters. Callers that only see cumulative totals (rather
// than one call per frame) pass the delta since their last observation.
func (m *Metrics) ObserveFrames(kind string, frames, bytes int) {
	m.framesReceived.WithLabelValues(kind).Add(float64(frames))
	m.bytesReceived.WithLabelValues(kind).Add(float64(bytes))
}

// SetSyncPlaying records whether the presentation clock is currently
// advancing.
func (m *Metrics) SetSyncPlaying(playing bool) {
	if playing {
		m.syncStatus.Set(1)
	} else {
		m.syncStatus.Set(0)
	}
}

// SetBufferFilled records the video source's buffer status.
func (m *Metrics) SetBufferFilled(filled bool) {
	if filled {
		m.bufferFilled.Set(1)
	} else {
		m.bufferFilled.Set(0)
	}
}

// SetPresentationLag records the current gap between received and
// presented producer time, in seconds.
func (m *Metrics) SetPresentationLag(seconds float64) {
	m.presentationLag.Set(seconds)
}

// Handler returns an http.Handler serving the registry in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
