// Package eventchannel emits structured kernel events as the pack's legacy
// DebugEvent protobuf message, mirroring gvisor's own event-channel
// mechanism but trimmed to the single message type this kernel needs.
package eventchannel

import (
	"fmt"

	"github.com/golang/protobuf/proto"
	"github.com/sirupsen/logrus"

	gvisor "github.com/oscomp/gokernel/pkg/eventchannel/eventchannel_go_proto"
)

// Emit marshals a DebugEvent named name with a formatted text body and logs
// the encoded bytes at debug level. Marshal failures are logged and
// swallowed: event emission must never be allowed to fail a syscall.
func Emit(name, format string, args ...any) {
	ev := &gvisor.DebugEvent{
		Name: name,
		Text: fmt.Sprintf(format, args...),
	}
	b, err := proto.Marshal(ev)
	if err != nil {
		logrus.WithError(err).WithField("event", name).Warn("eventchannel: marshal failed")
		return
	}
	logrus.WithFields(logrus.Fields{
		"event": name,
		"bytes": len(b),
	}).Debug(ev.Text)
}
