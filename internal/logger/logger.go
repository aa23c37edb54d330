package logger

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	mu      sync.Mutex
	loggers = make(map[string]*Logger)
	level   = logrus.InfoLevel
	output  = io.Writer(os.Stderr)
)

// Logger именованный логгер logrus со своим форматом строки
type Logger struct {
	*logrus.Logger

	name     string
	pid      int
	colorful atomic.Bool
}

// Format реализует logrus.Formatter:
// 2006/01/02 15:04:05.000000 name[pid] <LEVEL>: msg [func@file:line] map[...]
func (l *Logger) Format(e *logrus.Entry) ([]byte, error) {
	lvl := strings.ToUpper(e.Level.String())
	if l.colorful.Load() {
		color := 34
		switch e.Level {
		case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
			color = 31
		case logrus.WarnLevel:
			color = 33
		case logrus.DebugLevel, logrus.TraceLevel:
			color = 35
		}
		lvl = fmt.Sprintf("\033[1;%dm%s\033[0m", color, lvl)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s[%d] <%s>: %s",
		e.Time.Format("2006/01/02 15:04:05.000000"), l.name, l.pid, lvl, strings.TrimRight(e.Message, "\n"))
	if e.Caller != nil {
		fmt.Fprintf(&b, " [%s@%s:%d]", funcName(e.Caller.Function), path.Base(e.Caller.File), e.Caller.Line)
	}
	if len(e.Data) != 0 {
		fmt.Fprintf(&b, " %v", e.Data)
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// GetLogger возвращает логгер с именем name, создавая его при первом обращении
func GetLogger(name string) *Logger {
	mu.Lock()
	defer mu.Unlock()

	if l, ok := loggers[name]; ok {
		return l
	}

	l := &Logger{Logger: logrus.New(), name: name, pid: os.Getpid()}
	l.Formatter = l
	l.SetReportCaller(true)
	l.SetLevel(level)
	l.SetOutput(output)
	l.colorful.Store(isTerminal(output))
	loggers[name] = l
	return l
}

// SetLogLevel задает уровень для всех логгеров, в том числе будущих
func SetLogLevel(lvl logrus.Level) {
	mu.Lock()
	defer mu.Unlock()
	level = lvl
	for _, l := range loggers {
		l.SetLevel(lvl)
	}
}

// ParseLevel разбирает уровень из строки конфигурации
func ParseLevel(s string) (logrus.Level, error) {
	return logrus.ParseLevel(s)
}

// SetOutput направляет все логгеры в w. Цвет включается только для терминала.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	for _, l := range loggers {
		l.SetOutput(w)
		l.colorful.Store(isTerminal(w))
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// funcName убирает путь пакета из полного имени функции
func funcName(full string) string {
	if i := strings.LastIndex(full, "/"); i != -1 {
		full = full[i+1:]
	}
	if i := strings.Index(full, "."); i != -1 {
		full = full[i+1:]
	}
	return full
}
