package observability

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// SetupLogger 按级别与格式创建日志器。无法识别的级别回退到 info，
// format 为 json 时输出 JSON，否则输出带完整时间戳的文本。
func SetupLogger(level, format string) *logrus.Logger {
	return NewLogger(level, format, os.Stdout)
}

// NewLogger 同 SetupLogger，但可指定输出目标。
func NewLogger(level, format string, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)

	if strings.EqualFold(strings.TrimSpace(format), "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return logger
}
