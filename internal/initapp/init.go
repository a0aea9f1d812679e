package initapp

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// LogLevelEnv 控制日志级别的环境变量
const LogLevelEnv = "LOG_LEVEL"

// Init 加载 .env 并初始化日志，不影响请求处理逻辑
func Init() error {
	// .env 不存在时忽略
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.Warnf("[Init] failed to load .env: %v", err)
	}

	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	level, err := ParseLevel(os.Getenv(LogLevelEnv))
	if err != nil {
		logrus.SetLevel(logrus.InfoLevel)
		logrus.Warnf("[Init] invalid %s, using info: %v", LogLevelEnv, err)
		return nil
	}
	logrus.SetLevel(level)
	logrus.Debugf("[Init] log level %s", level)
	return nil
}

// ParseLevel 解析日志级别，空值为 info
func ParseLevel(value string) (logrus.Level, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(value)
}
