package coordinator

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kaikulimu/blazingmq/internal/blob"
	"github.com/kaikulimu/blazingmq/internal/dispatcher"
	"github.com/kaikulimu/blazingmq/internal/protocol"
)

var nacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bmq_nacks_total",
	Help: "NACKs generated for failed PUT messages.",
}, []string{"status"})

// GenerateNack builds an ACK carrying the failure status for the PUT
// described by putHeader and dispatches it back to source. The original
// payload and options ride along when present; options without payload is a
// caller bug. A success status has no business here.
func GenerateNack(status protocol.AckResult, putHeader protocol.PutHeader, source dispatcher.Client, disp dispatcher.Dispatcher, appData, options *blob.Blob) error {
	if status == protocol.AckResultSuccess {
		return fmt.Errorf("generate nack: status must not be SUCCESS")
	}
	if appData == nil && options != nil {
		return fmt.Errorf("generate nack: options without app data")
	}

	ack := protocol.NewAckMessage(protocol.AckResultToCode(status), putHeader)

	ev := disp.GetEvent(source)
	ev.SetType(dispatcher.EventTypeAck).SetAckMessage(ack)
	if appData != nil {
		ev.SetBlob(appData)
		ev.SetOptions(options)
	}
	disp.DispatchEvent(ev, source)

	nacksTotal.WithLabelValues(status.String()).Inc()
	return nil
}
