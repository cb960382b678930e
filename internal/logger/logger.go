package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 项目统一日志接口，键值对形式传入字段
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Err(err error, msg string, kv ...any)
	With(kv ...any) Logger
}

// Options 日志初始化选项
type Options struct {
	Level  string
	Writer []string // console, file
	File   string
	Out    io.Writer // console 输出目标，默认 stderr
}

type zeroLogger struct {
	zl zerolog.Logger
}

// New 根据配置创建 zerolog 实现
func New(opts Options) (Logger, error) {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	for _, w := range opts.Writer {
		switch w {
		case "console":
			out := opts.Out
			if out == nil {
				out = os.Stderr
			}
			writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime, NoColor: opts.Out != nil})
		case "file":
			if opts.File == "" {
				return nil, fmt.Errorf("日志输出为 file 时必须配置文件路径")
			}
			if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
				return nil, fmt.Errorf("创建日志目录失败: %w", err)
			}
			writers = append(writers, &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    20,
				MaxBackups: 5,
				MaxAge:     30,
				Compress:   true,
			})
		default:
			return nil, fmt.Errorf("未知的日志输出: %s", w)
		}
	}
	if len(writers) == 0 {
		return NewNop(), nil
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	return &zeroLogger{zl: zl}, nil
}

// NewNop 丢弃所有日志
func NewNop() Logger {
	return &zeroLogger{zl: zerolog.Nop()}
}

func (l *zeroLogger) Debug(msg string, kv ...any) { l.write(l.zl.Debug(), msg, kv) }
func (l *zeroLogger) Info(msg string, kv ...any)  { l.write(l.zl.Info(), msg, kv) }
func (l *zeroLogger) Warn(msg string, kv ...any)  { l.write(l.zl.Warn(), msg, kv) }
func (l *zeroLogger) Error(msg string, kv ...any) { l.write(l.zl.Error(), msg, kv) }

func (l *zeroLogger) Err(err error, msg string, kv ...any) {
	l.write(l.zl.Error().Err(err), msg, kv)
}

func (l *zeroLogger) With(kv ...any) Logger {
	return &zeroLogger{zl: l.zl.With().Fields(fields(kv)).Logger()}
}

func (l *zeroLogger) write(ev *zerolog.Event, msg string, kv []any) {
	if ev == nil {
		return
	}
	ev.Fields(fields(kv)).Msg(msg)
}

// fields 将 key1, val1, key2, val2 转换为 map，奇数个参数时最后一个值记为 !BADKEY
func fields(kv []any) map[string]any {
	m := make(map[string]any, len(kv)/2+1)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		if i+1 >= len(kv) {
			m["!BADKEY"] = kv[i]
			break
		}
		switch v := kv[i+1].(type) {
		case error:
			m[key] = v.Error()
		case fmt.Stringer:
			m[key] = v.String()
		default:
			m[key] = v
		}
	}
	return m
}
