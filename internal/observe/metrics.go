package observe

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	onlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_online_users",
		Help: "Number of registered sessions",
	})

	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total envelopes published by kind",
		},
		[]string{"kind"},
	)

	slowConsumersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_slow_consumers_total",
		Help: "Total subscribers evicted for a full outbound queue",
	})

	decodeErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_decode_errors_total",
		Help: "Total inbound frames that failed to decode",
	})

	handshakeRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_handshake_rejections_total",
			Help: "Total rejected handshakes by reason",
		},
		[]string{"reason"}, // timeout|not_connect|invalid_name|name_taken|io
	)

	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_commands_total",
			Help: "Total commands executed by name",
		},
		[]string{"name"},
	)

	commandErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_command_errors_total",
			Help: "Total command errors by reason",
		},
		[]string{"reason"}, // not_found|handler
	)
)

func init() {
	prometheus.MustRegister(
		onlineUsers,
		messagesTotal,
		slowConsumersTotal,
		decodeErrorsTotal,
		handshakeRejectionsTotal,
		commandsTotal,
		commandErrorsTotal,
	)
}

func IncMessage(kind string)              { messagesTotal.WithLabelValues(kind).Inc() }
func IncSlowConsumer()                    { slowConsumersTotal.Inc() }
func IncDecodeError()                     { decodeErrorsTotal.Inc() }
func IncHandshakeRejection(reason string) { handshakeRejectionsTotal.WithLabelValues(reason).Inc() }
func AddOnline(delta float64)             { onlineUsers.Add(delta) }
func IncCommand(name string)              { commandsTotal.WithLabelValues(name).Inc() }
func IncCommandError(reason string)       { commandErrorsTotal.WithLabelValues(reason).Inc() }
