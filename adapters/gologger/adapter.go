package gologger

import (
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	LoggerRoot     = "outbound"
	LoggerPublish  = "outbound.publish"
	LoggerBridge   = "outbound.bridge"
	LoggerWorker   = "outbound.worker"
	LoggerWebhooks = "outbound.webhooks"
	LoggerQueue    = "outbound.queue"
	LoggerSecurity = "outbound.security"
)

// Loggers carries one named logger per component.
type Loggers struct {
	Root     glog.Logger
	Publish  glog.Logger
	Bridge   glog.Logger
	Worker   glog.Logger
	Webhooks glog.Logger
	Queue    glog.Logger
	Security glog.Logger
}

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

// ResolveLoggers resolves the root logger, then asks the resulting provider
// for each component logger.
func ResolveLoggers(provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, Loggers) {
	resolvedProvider, root := Resolve(LoggerRoot, provider, logger)
	named := func(name string) glog.Logger {
		if resolvedProvider == nil {
			return root
		}
		return glog.Ensure(resolvedProvider.GetLogger(name))
	}
	return resolvedProvider, Loggers{
		Root:     glog.Ensure(root),
		Publish:  named(LoggerPublish),
		Bridge:   named(LoggerBridge),
		Worker:   named(LoggerWorker),
		Webhooks: named(LoggerWebhooks),
		Queue:    named(LoggerQueue),
		Security: named(LoggerSecurity),
	}
}

// ToJobProvider maps a glog provider to the go-job logger provider contract.
func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

// ToJobLogger maps a glog logger to the go-job logger contract.
func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}
