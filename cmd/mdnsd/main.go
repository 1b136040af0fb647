// Command mdnsd advertises the services listed in its configuration over
// multicast DNS and logs the instances of the service types it browses.
//
// Usage:
//
//	mdnsd -config /etc/mdnsd.yaml
//
// MDNSD_HOSTNAME, MDNSD_INTERFACE and MDNSD_LOG_LEVEL override the file.
// On SIGINT or SIGTERM the daemon withdraws its records with goodbye
// packets before exiting.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/joshuafuller/tinymdns/querier"
	"github.com/joshuafuller/tinymdns/responder"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration")
	flag.Parse()

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		level.Error(logger).Log("msg", "failed to load configuration", "err", err)
		os.Exit(1)
	}
	allow, _ := levelOption(cfg.LogLevel)
	logger = level.NewFilter(logger, allow)

	if err := run(cfg, logger); err != nil {
		level.Error(logger).Log("msg", "mdnsd stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg *Config, logger log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []responder.Option{
		responder.WithInterface(cfg.Interface),
		responder.WithLogger(log.With(logger, "component", "responder")),
		responder.WithPacketTrace(cfg.PacketTrace),
	}
	if cfg.Hostname != "" {
		opts = append(opts, responder.WithHostname(cfg.Hostname))
	}
	r, err := responder.New(ctx, opts...)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := setup(r, cfg, logger); err != nil {
		return err
	}

	level.Info(logger).Log("msg", "mdnsd started", "hostname", r.Hostname(), "interface", cfg.Interface,
		"services", len(cfg.Services), "queries", len(cfg.Queries)+len(cfg.Hosts))
	err = r.Run(ctx)
	level.Info(logger).Log("msg", "shutting down")
	return err
}

// setup registers everything cfg lists with r.
func setup(r *responder.Responder, cfg *Config, logger log.Logger) error {
	if cfg.Instance != "" {
		if err := r.SetInstanceName(cfg.Instance); err != nil {
			return err
		}
	}
	if err := r.Begin(cfg.Hostname); err != nil {
		return err
	}
	for _, s := range cfg.Services {
		h, err := r.AddService(s.Name, s.Type, s.Protocol, s.Port)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(s.TXT))
		for k := range s.TXT {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := r.AddServiceTXT(h, k, s.TXT[k]); err != nil {
				return err
			}
		}
	}
	for _, q := range cfg.Queries {
		if _, err := r.InstallServiceQuery(q.Type, q.Protocol, logAnswers(logger, serviceTypeName(q))); err != nil {
			return err
		}
	}
	for _, h := range cfg.Hosts {
		if _, err := r.InstallHostQuery(h, logAnswers(logger, h)); err != nil {
			return err
		}
	}
	return nil
}

// serviceTypeName is the "_type._proto" label pair of q.
func serviceTypeName(q QueryConfig) string {
	return "_" + strings.TrimPrefix(q.Type, "_") + "._" + strings.TrimPrefix(q.Protocol, "_")
}

// logAnswers returns a query callback that logs every change.
func logAnswers(logger log.Logger, query string) querier.Callback {
	return func(info querier.AnswerInfo, changed querier.AnswerType, added bool) {
		event := "removed"
		if added {
			event = "added"
		}
		keyvals := []interface{}{"msg", "answer " + event, "query", query, "part", changed}
		if info.ServiceDomain != "" {
			keyvals = append(keyvals, "instance", info.ServiceDomain)
		}
		if info.HostDomain != "" {
			keyvals = append(keyvals, "host", info.HostDomain)
		}
		if info.Port != 0 {
			keyvals = append(keyvals, "port", info.Port)
		}
		if len(info.IPv4) > 0 {
			keyvals = append(keyvals, "ipv4", info.IPv4[0])
		}
		if len(info.IPv6) > 0 {
			keyvals = append(keyvals, "ipv6", info.IPv6[0])
		}
		if len(info.TXT) > 0 {
			keyvals = append(keyvals, "txt", len(info.TXT))
		}
		level.Info(logger).Log(keyvals...)
	}
}
