package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Logger *logrus.Logger

// InitLogger sets up the global logger: JSON to stdout plus one rotated file per severity band under logDir
func InitLogger(logLevel, logDir string) error {
	l := logrus.New()

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
	})

	l.AddHook(&FileHook{
		ErrorWriter: rotated(logDir, "error.log"),
		InfoWriter:  rotated(logDir, "info.log"),
		DebugWriter: rotated(logDir, "debug.log"),
	})

	l.SetOutput(os.Stdout)

	Logger = l
	return nil
}

func rotated(dir, name string) io.Writer {
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, name),
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
}

// FileHook implements logrus.Hook to write different log levels to different files
type FileHook struct {
	ErrorWriter io.Writer
	InfoWriter  io.Writer
	DebugWriter io.Writer
}

func (hook *FileHook) Fire(entry *logrus.Entry) error {
	line, err := entry.Bytes()
	if err != nil {
		return err
	}

	var w io.Writer
	switch entry.Level {
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		w = hook.ErrorWriter
	case logrus.WarnLevel, logrus.InfoLevel:
		w = hook.InfoWriter
	default:
		w = hook.DebugWriter
	}
	if w == nil {
		return nil
	}

	_, err = w.Write(line)
	return err
}

func (hook *FileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func log(level logrus.Level, msg string, fields map[string]interface{}) {
	if Logger == nil {
		return
	}
	Logger.WithFields(fields).Log(level, msg)
}

func Error(msg string, fields map[string]interface{}) { log(logrus.ErrorLevel, msg, fields) }
func Warn(msg string, fields map[string]interface{})  { log(logrus.WarnLevel, msg, fields) }
func Info(msg string, fields map[string]interface{})  { log(logrus.InfoLevel, msg, fields) }
func Debug(msg string, fields map[string]interface{}) { log(logrus.DebugLevel, msg, fields) }

func ErrorMsg(msg string) { Error(msg, nil) }
func WarnMsg(msg string)  { Warn(msg, nil) }
func InfoMsg(msg string)  { Info(msg, nil) }
func DebugMsg(msg string) { Debug(msg, nil) }
