// Package metrics holds the transceiver's prometheus counters. They are
// registered with the default registry on import.
package metrics

import "github.com/docker/go-metrics"

var (
	DatagramsReceived metrics.Counter
	BytesReceived     metrics.Counter
	Truncated         metrics.LabeledCounter
	ReceiveErrors     metrics.Counter
	DatagramsSent     metrics.Counter
	BytesSent         metrics.Counter
	Replies           metrics.LabeledCounter
)

// Namespace is the collector owning every counter of this package.
var Namespace *metrics.Namespace

func init() {
	Namespace = metrics.NewNamespace("dgram", "transceiver", nil)
	DatagramsReceived = Namespace.NewCounter("datagrams_received", "The number of datagrams delivered to handlers")
	BytesReceived = Namespace.NewCounter("received_bytes", "The number of payload bytes delivered to handlers")
	Truncated = Namespace.NewLabeledCounter("truncated", "The number of datagrams received with a truncated region", "region")
	ReceiveErrors = Namespace.NewCounter("receive_errors", "The number of failed receive attempts")
	DatagramsSent = Namespace.NewCounter("datagrams_sent", "The number of datagrams sent by transmitters")
	BytesSent = Namespace.NewCounter("sent_bytes", "The number of payload bytes sent by transmitters")
	Replies = Namespace.NewLabeledCounter("replies", "The number of replies sent, by outbound path", "path")
	metrics.Register(Namespace)
}
