package logger

import "go.uber.org/zap/zapcore"

// ansiColor wraps a string in an ANSI escape/reset pair for console output.
type ansiColor string

func (c ansiColor) wrap(s string) string {
	return string(c) + s + ansiReset
}

const ansiReset = "\x1b[0m"

const (
	colorGray   ansiColor = "\x1b[90m"
	colorBlue   ansiColor = "\x1b[34m"
	colorYellow ansiColor = "\x1b[33m"
	colorRed    ansiColor = "\x1b[31m"
	colorMagenta ansiColor = "\x1b[35m"
)

var levelToCapitalColorString = map[zapcore.Level]string{
	zapcore.DebugLevel:  colorGray.wrap(zapcore.DebugLevel.CapitalString()),
	zapcore.InfoLevel:   colorBlue.wrap(zapcore.InfoLevel.CapitalString()),
	zapcore.WarnLevel:   colorYellow.wrap(zapcore.WarnLevel.CapitalString()),
	zapcore.ErrorLevel:  colorRed.wrap(zapcore.ErrorLevel.CapitalString()),
	zapcore.DPanicLevel: colorMagenta.wrap(zapcore.DPanicLevel.CapitalString()),
	zapcore.PanicLevel:  colorMagenta.wrap(zapcore.PanicLevel.CapitalString()),
	zapcore.FatalLevel:  colorMagenta.wrap(zapcore.FatalLevel.CapitalString()),
}

var unknownLevelColor = colorGray
