package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call outcomes recorded in methodCallsTotal.
const (
	outcomeOK             = "ok"
	outcomeError          = "error"
	outcomeNotImplemented = "not_implemented"
	outcomeRateLimited    = "rate_limited"
)

// unknownChannelLabel stands in for channel names nobody registered, so
// clients cannot create metric series at will.
const unknownChannelLabel = "unknown"

var (
	methodCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "channelhost_method_calls_total",
		Help: "Method calls handled, by channel and outcome",
	}, []string{"channel", "outcome"})

	eventsDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "channelhost_events_delivered_total",
		Help: "Stream events queued to a listener, by channel and kind",
	}, []string{"channel", "kind"})

	eventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "channelhost_events_dropped_total",
		Help: "Stream events dropped because the listener could not keep up",
	}, []string{"channel"})

	streamListeners = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "channelhost_stream_listeners",
		Help: "Event channels that currently have a listener attached",
	})

	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "channelhost_connected_clients",
		Help: "Currently connected WebSocket clients",
	})
)
