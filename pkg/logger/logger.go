package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日志实例
	Logger *logrus.Logger
	// currentLogFile 当前日志文件路径
	currentLogFile string
	// baseLogFile 基础日志文件路径（配置中的原始路径）
	baseLogFile string
	// savedConfig 保存的日志配置（用于日志轮转）
	savedConfig Config
	// currentPeriod 当前周期时间戳
	currentPeriod int64
	// currentMarketSlug 当前市场周期 slug（用于按周期命名日志文件）
	currentMarketSlug string
	// currentMarketTimestamp 当前市场周期时间戳（从市场 slug 提取）
	currentMarketTimestamp int64
	// logMu 日志文件切换锁
	logMu sync.Mutex
	// cycleDuration 周期时长（默认15分钟）
	cycleDuration = 15 * time.Minute
)

// Config 日志配置
type Config struct {
	Level         string        // 日志级别: debug, info, warn, error
	OutputFile    string        // 日志文件路径（可选，为空则只输出到控制台）
	MaxSize       int           // 日志文件最大大小（MB）
	MaxBackups    int           // 保留的旧日志文件数量
	MaxAge        int           // 保留旧日志文件的天数
	Compress      bool          // 是否压缩旧日志文件
	LogByCycle    bool          // 是否按周期命名日志文件
	CycleDuration time.Duration // 周期时长（默认15分钟）
}

// SetMarketInfo 设置当前市场周期（slug + 周期起点时间戳）。
// 周期切换时由引擎调用，让日志文件跟随周期命名。
func SetMarketInfo(slug string, timestamp int64) {
	logMu.Lock()
	defer logMu.Unlock()
	currentMarketSlug = slug
	currentMarketTimestamp = timestamp
}

// getCurrentPeriod 获取当前周期的时间戳
// 如果设置了市场周期时间戳，优先使用；否则使用周期对齐时间
func getCurrentPeriod(d time.Duration) int64 {
	if currentMarketTimestamp > 0 {
		return currentMarketTimestamp
	}
	return time.Now().Truncate(d).Unix()
}

// getLogFileName 根据周期生成日志文件名
func getLogFileName(basePath string, period int64) string {
	dir := filepath.Dir(basePath)
	ext := filepath.Ext(basePath)

	// 如果已知市场 slug，使用市场格式：{slug}.log
	if currentMarketSlug != "" && period == currentMarketTimestamp {
		name := currentMarketSlug + ext
		if dir == "." || dir == "" {
			return name
		}
		return filepath.Join(dir, name)
	}

	// 否则使用日期时间格式：logs/2026-03-02_12-30.log
	periodStr := time.Unix(period, 0).Format("2006-01-02_15-04")
	baseName := filepath.Base(basePath)
	nameWithoutExt := baseName[:len(baseName)-len(ext)]
	name := fmt.Sprintf("%s_%s%s", nameWithoutExt, periodStr, ext)
	if dir == "." || dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

func newFormatter() *logrus.TextFormatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05",
		ForceColors:     true,
	}
}

// Init 初始化日志系统
func Init(config Config) error {
	logMu.Lock()
	defer logMu.Unlock()
	return initLocked(config)
}

func initLocked(config Config) error {
	logger := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(newFormatter())

	writers := []io.Writer{os.Stdout}

	if config.OutputFile != "" {
		baseLogFile = config.OutputFile
		savedConfig = config

		var logFilePath string
		if config.LogByCycle {
			if config.CycleDuration == 0 {
				config.CycleDuration = cycleDuration
			}
			cycleDuration = config.CycleDuration
			period := getCurrentPeriod(config.CycleDuration)
			currentPeriod = period
			logFilePath = getLogFileName(config.OutputFile, period)
		} else {
			logFilePath = config.OutputFile
		}

		if err := os.MkdirAll(filepath.Dir(logFilePath), 0o755); err != nil {
			return err
		}

		writers = append(writers, &lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		})
		currentLogFile = logFilePath
	}

	multiWriter := io.MultiWriter(writers...)
	logger.SetOutput(multiWriter)

	// 同时设置全局 logrus 的输出，确保策略里 logrus.WithField() 创建的 entry 也写入文件
	logrus.SetOutput(multiWriter)
	logrus.SetLevel(level)
	logrus.SetFormatter(newFormatter())

	Logger = logger
	return nil
}

// CheckAndRotate 检查并切换日志文件（如果周期变化）。
// forceRotate 为 true 时强制切换（周期切换回调里使用）。
func CheckAndRotate(forceRotate bool) error {
	logMu.Lock()
	defer logMu.Unlock()

	if !savedConfig.LogByCycle || baseLogFile == "" {
		return nil
	}

	period := getCurrentPeriod(savedConfig.CycleDuration)
	if !forceRotate && period == currentPeriod {
		return nil
	}

	logFilePath := getLogFileName(baseLogFile, period)
	if logFilePath == currentLogFile && !forceRotate {
		return nil
	}

	oldLogFile := currentLogFile
	currentPeriod = period
	if oldLogFile != "" {
		fmt.Printf("[日志切换] %s -> %s (period=%d)\n", oldLogFile, logFilePath, period)
	}

	if err := switchOutputLocked(logFilePath); err != nil {
		return err
	}
	Logger.Infof("日志文件已切换到新周期: %s", logFilePath)
	return nil
}

// switchOutputLocked 将日志输出切换到新文件（不改动 savedConfig/baseLogFile）。
func switchOutputLocked(logFilePath string) error {
	logger := logrus.New()

	level, err := logrus.ParseLevel(savedConfig.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(newFormatter())

	if err := os.MkdirAll(filepath.Dir(logFilePath), 0o755); err != nil {
		return err
	}

	multiWriter := io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    savedConfig.MaxSize,
		MaxBackups: savedConfig.MaxBackups,
		MaxAge:     savedConfig.MaxAge,
		Compress:   savedConfig.Compress,
	})
	logger.SetOutput(multiWriter)
	logrus.SetOutput(multiWriter)
	logrus.SetLevel(level)
	logrus.SetFormatter(newFormatter())

	currentLogFile = logFilePath
	Logger = logger
	return nil
}

// InitDefault 使用默认配置初始化日志系统
func InitDefault() error {
	return Init(Config{
		Level:         "info",
		OutputFile:    "logs/combined.log",
		MaxSize:       100,
		MaxBackups:    3,
		MaxAge:        7,
		Compress:      true,
		LogByCycle:    true,
		CycleDuration: 15 * time.Minute,
	})
}

// StartRotationChecker 启动日志轮转检查器（后台任务）
func StartRotationChecker() {
	logMu.Lock()
	enabled := savedConfig.LogByCycle && baseLogFile != ""
	logMu.Unlock()
	if !enabled {
		return
	}

	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			if err := CheckAndRotate(false); err != nil {
				if Logger != nil {
					Logger.Errorf("检查日志轮转失败: %v", err)
				}
			}
		}
	}()
}

// Debugf 记录格式化的 DEBUG 级别日志
func Debugf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Debugf(format, args...)
	}
}

// Infof 记录格式化的 INFO 级别日志
func Infof(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Infof(format, args...)
	}
}

// Info 记录 INFO 级别日志
func Info(args ...interface{}) {
	if Logger != nil {
		Logger.Info(args...)
	}
}

// Warnf 记录格式化的 WARN 级别日志
func Warnf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Warnf(format, args...)
	}
}

// Errorf 记录格式化的 ERROR 级别日志
func Errorf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Errorf(format, args...)
	}
}

// WithField 添加字段到日志上下文
func WithField(key string, value interface{}) *logrus.Entry {
	if Logger != nil {
		return Logger.WithField(key, value)
	}
	return logrus.NewEntry(logrus.New())
}

// WithFields 添加多个字段到日志上下文
func WithFields(fields logrus.Fields) *logrus.Entry {
	if Logger != nil {
		return Logger.WithFields(fields)
	}
	return logrus.NewEntry(logrus.New())
}

// GetCurrentLogFile 获取当前日志文件路径
func GetCurrentLogFile() string {
	logMu.Lock()
	defer logMu.Unlock()
	return currentLogFile
}
