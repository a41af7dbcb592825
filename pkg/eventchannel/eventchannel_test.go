package eventchannel

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestEmitLogsFormattedText(t *testing.T) {
	var buf bytes.Buffer
	orig := logrus.StandardLogger().Out
	logrus.SetOutput(&buf)
	logrus.SetLevel(logrus.DebugLevel)
	defer func() {
		logrus.SetOutput(orig)
		logrus.SetLevel(logrus.InfoLevel)
	}()

	Emit("task-exit", "task %d exited with code %d", 7, 0)

	out := buf.String()
	if !bytes.Contains([]byte(out), []byte("task 7 exited with code 0")) {
		t.Fatalf("log output missing formatted event text: %q", out)
	}
	if !bytes.Contains([]byte(out), []byte("task-exit")) {
		t.Fatalf("log output missing event name field: %q", out)
	}
}

func TestEmitNeverPanicsOnEmptyArgs(t *testing.T) {
	Emit("noargs", "plain message")
}
