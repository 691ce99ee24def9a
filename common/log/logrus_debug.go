//go:build debug

package log

import (
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

func init() {
	logrus.SetLevel(logrus.TraceLevel)
	workDir, _ := filepath.Abs(".")
	logger := logrus.StandardLogger()
	logger.SetReportCaller(true)
	logger.Formatter.(*logrus.TextFormatter).CallerPrettyfier = func(frame *runtime.Frame) (string, string) {
		file := strings.TrimPrefix(frame.File, workDir+string(filepath.Separator))
		return "", " " + file + ":" + strconv.Itoa(frame.Line)
	}
}
