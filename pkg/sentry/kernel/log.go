package kernel

import "github.com/sirupsen/logrus"

// log is the package-level entry every kernel log call goes through,
// matching gvisor's own practice of tagging log lines with task identity
// rather than calling fmt.Println (SPEC_FULL §A).
var log = logrus.WithField("component", "kernel")

func taskLog(taskID TaskID) *logrus.Entry {
	return log.WithField("task_id", taskID)
}
