// Package metrics exposes broker and presence gauges for scraping.
package metrics

import (
	"net/http"

	"github.com/dkeye/Roulette/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements broker.Stats and presence.Gauge on its own registry.
type Metrics struct {
	reg     *prometheus.Registry
	online  prometheus.Gauge
	waiting *prometheus.GaugeVec
	rooms   prometheus.Gauge
	matches *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "roulette",
			Name:      "online_participants",
			Help:      "Open signaling connections.",
		}),
		waiting: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "roulette",
			Name:      "waiting_participants",
			Help:      "Participants waiting to be paired.",
		}, []string{"mode"}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "roulette",
			Name:      "active_rooms",
			Help:      "Rooms with two members.",
		}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roulette",
			Name:      "matches_total",
			Help:      "Pairings made.",
		}, []string{"mode"}),
	}
	m.reg.MustRegister(m.online, m.waiting, m.rooms, m.matches)
	return m
}

func (m *Metrics) SetOnline(n int) { m.online.Set(float64(n)) }

func (m *Metrics) SetWaiting(mode domain.Mode, n int) {
	m.waiting.WithLabelValues(string(mode)).Set(float64(n))
}

func (m *Metrics) SetRooms(n int) { m.rooms.Set(float64(n)) }

func (m *Metrics) MatchMade(mode domain.Mode) {
	m.matches.WithLabelValues(string(mode)).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
