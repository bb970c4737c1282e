package gologger

import (
	"context"
	"testing"

	glog "github.com/goliatone/go-logger/glog"
)

func TestResolveDeterministicFallback(t *testing.T) {
	loggerOnly := &capturingLogger{id: "logger"}
	providerLogger := &capturingLogger{id: "provider"}
	provider := &capturingProvider{logger: providerLogger}

	var resolvedProvider glog.LoggerProvider
	_, resolved := Resolve("outbound", provider, loggerOnly)
	got := resolved.(*capturingLogger)
	if got.id != "provider" {
		t.Fatalf("expected provider logger precedence, got %q", got.id)
	}

	resolvedProvider, resolved = Resolve("outbound", nil, loggerOnly)
	got = resolved.(*capturingLogger)
	if got.id != "logger" {
		t.Fatalf("expected direct logger when provider is nil, got %q", got.id)
	}
	if resolvedProvider == nil {
		t.Fatalf("expected provider wrapper from logger")
	}

	_, resolved = Resolve("outbound", nil, nil)
	if resolved == nil {
		t.Fatalf("expected nop logger fallback")
	}
}

func TestResolveLoggersNamesComponents(t *testing.T) {
	provider := &namingProvider{}
	_, loggers := ResolveLoggers(provider, nil)

	loggers.Worker.Info("tick")
	if provider.names[LoggerWorker] == nil || provider.names[LoggerWorker].lastInfo.msg != "tick" {
		t.Fatalf("expected worker logger to be requested by name")
	}
	for _, name := range []string{LoggerRoot, LoggerPublish, LoggerBridge, LoggerWebhooks, LoggerQueue, LoggerSecurity} {
		if provider.names[name] == nil {
			t.Fatalf("expected provider to be asked for %q", name)
		}
	}

	direct := &capturingLogger{id: "direct"}
	_, loggers = ResolveLoggers(nil, direct)
	if loggers.Publish == nil || loggers.Security == nil {
		t.Fatalf("expected component loggers from a bare logger")
	}

	_, loggers = ResolveLoggers(nil, nil)
	loggers.Webhooks.Info("discarded")
}

func TestGoJobBridgeCompatibility(t *testing.T) {
	providerLogger := &capturingLogger{id: "provider"}
	provider := &capturingProvider{logger: providerLogger}

	jobProvider := ToJobProvider(provider)
	if jobProvider == nil {
		t.Fatalf("expected go-job provider bridge")
	}
	if ToJobLogger(providerLogger) == nil {
		t.Fatalf("expected go-job logger bridge")
	}
	if ToJobProvider(nil) != nil || ToJobLogger(nil) != nil {
		t.Fatalf("expected nil inputs to map to nil")
	}

	bridged := jobProvider.GetLogger("outbound.worker")
	bridged.Info("hello", "k", "v")

	captured := providerLogger.lastInfo
	if captured.msg != "hello" {
		t.Fatalf("expected bridged message, got %q", captured.msg)
	}
	if captured.args[0] != "k" || captured.args[1] != "v" {
		t.Fatalf("expected bridged args, got %#v", captured.args)
	}
}

type namingProvider struct {
	names map[string]*capturingLogger
}

func (p *namingProvider) GetLogger(name string) glog.Logger {
	if p.names == nil {
		p.names = map[string]*capturingLogger{}
	}
	logger := &capturingLogger{id: name}
	p.names[name] = logger
	return logger
}

var (
	_ glog.Logger         = (*capturingLogger)(nil)
	_ glog.LoggerProvider = (*capturingProvider)(nil)
)

type capturingProvider struct {
	logger *capturingLogger
}

func (p *capturingProvider) GetLogger(string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type infoCall struct {
	msg  string
	args []any
}

type capturingLogger struct {
	id       string
	lastInfo infoCall
}

func (l *capturingLogger) Trace(string, ...any) {}
func (l *capturingLogger) Debug(string, ...any) {}
func (l *capturingLogger) Warn(string, ...any)  {}
func (l *capturingLogger) Error(string, ...any) {}
func (l *capturingLogger) Fatal(string, ...any) {}

func (l *capturingLogger) Info(msg string, args ...any) {
	l.lastInfo = infoCall{
		msg:  msg,
		args: append([]any(nil), args...),
	}
}

func (l *capturingLogger) WithContext(context.Context) glog.Logger {
	return l
}
