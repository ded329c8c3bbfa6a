package logger

import (
	"strings"
	"sync"
)

// TestLogger records entries in memory. Loggers derived with Named or With write to the same record.
type TestLogger struct {
	sink   *entrySink
	name   string
	fields []Field
}

type entrySink struct {
	mu      sync.Mutex
	entries []LogEntry
}

type LogEntry struct {
	Logger  string
	Level   string
	Message string
	Fields  []Field
}

// NewTestLogger 创建一个新的测试日志记录器
func NewTestLogger() *TestLogger {
	return &TestLogger{sink: &entrySink{}}
}

func (l *TestLogger) Named(name string) Logger {
	child := *l
	if l.name != "" {
		child.name = l.name + "." + name
	} else {
		child.name = name
	}
	return &child
}

func (l *TestLogger) With(fields ...Field) Logger {
	child := *l
	child.fields = append(append([]Field(nil), l.fields...), fields...)
	return &child
}

func (l *TestLogger) Sync() error { return nil }

func (l *TestLogger) Debug(msg string, fields ...Field) { l.log("DEBUG", msg, fields) }
func (l *TestLogger) Info(msg string, fields ...Field)  { l.log("INFO", msg, fields) }
func (l *TestLogger) Warn(msg string, fields ...Field)  { l.log("WARN", msg, fields) }
func (l *TestLogger) Error(msg string, fields ...Field) { l.log("ERROR", msg, fields) }

// Fatal records the entry without exiting.
func (l *TestLogger) Fatal(msg string, fields ...Field) { l.log("FATAL", msg, fields) }

func (l *TestLogger) log(level, msg string, fields []Field) {
	all := append(append([]Field(nil), l.fields...), fields...)
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.entries = append(l.sink.entries, LogEntry{Logger: l.name, Level: level, Message: msg, Fields: all})
}

// GetEntries 返回所有日志条目
func (l *TestLogger) GetEntries() []LogEntry {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return append([]LogEntry(nil), l.sink.entries...)
}

// Messages returns the messages logged at level, in order.
func (l *TestLogger) Messages(level string) []string {
	var out []string
	for _, e := range l.GetEntries() {
		if e.Level == strings.ToUpper(level) {
			out = append(out, e.Message)
		}
	}
	return out
}

// Field returns the last value of key on the first entry with msg.
func (l *TestLogger) Field(msg, key string) (Field, bool) {
	for _, e := range l.GetEntries() {
		if e.Message != msg {
			continue
		}
		for i := len(e.Fields) - 1; i >= 0; i-- {
			if e.Fields[i].Key == key {
				return e.Fields[i], true
			}
		}
		return Field{}, false
	}
	return Field{}, false
}

// Clear 清除所有日志条目
func (l *TestLogger) Clear() {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.entries = nil
}
