package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	syslog "github.com/RackSec/srslog"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	cfdoh "github.com/n0x1m/cfdoh-proxy"
)

const (
	defaultUpstreamURL = "https://1.1.1.1/dns-query"
	defaultDonorName   = "namu.wiki"
)

type options struct {
	logLevel uint32
	version  bool
}

func main() {
	var opt options
	cmd := &cobra.Command{
		Use:   "cfdohproxy [config.toml]",
		Short: "DNS-over-HTTPS proxy that patches CDN-fronted answers with a donor's address",
		Long: `cfdohproxy is a DNS-over-HTTPS forwarding proxy.

It forwards DoH queries to an upstream resolver and, when the answer
resolves to a CDN edge network, replaces the address records with those of
a configured donor hostname before returning the reply to the client.
`,
		Example: "  cfdohproxy config.toml",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			return start(opt, path)
		},
		SilenceUsage: true,
	}

	cmd.Flags().Uint32VarP(&opt.logLevel, "log-level", "l", 4, "log level; 0=None .. 6=Trace")
	cmd.Flags().BoolVarP(&opt.version, "version", "v", false, "print version and exit")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func start(opt options, configPath string) error {
	if opt.logLevel > 6 {
		return fmt.Errorf("invalid log level: %d", opt.logLevel)
	}
	if opt.version {
		fmt.Println("cfdohproxy (unreleased build)")
		return nil
	}
	cfdoh.Log.SetLevel(logrus.Level(opt.logLevel))

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	upstreamClient, err := cfdoh.NewUpstreamClient(cfg.Upstream, cfdoh.UpstreamClientOptions{
		TLSOptions: cfdoh.ClientTLSOptions{
			CAFile:        cfg.CA,
			ClientCrtFile: cfg.ClientCrt,
			ClientKeyFile: cfg.ClientKey,
		},
		QueryTimeout: time.Duration(cfg.QueryTimeout) * time.Second,
		CacheOptions: cfdoh.TtlCacheOptions{
			MaxSize: cfg.CacheSize,
			MaxTTL:  time.Duration(cfg.CacheTTL) * time.Second,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to build upstream client: %w", err)
	}

	handlerOpt := cfdoh.HandlerOptions{
		DonorName: cfg.Donor,
		Coalesce:  cfg.Coalesce,
	}

	if cfg.QueryLogFile != "" || cfg.QueryLogFormat != "" {
		ql, err := cfdoh.NewQueryLog(cfdoh.QueryLogOptions{
			OutputFile:   cfg.QueryLogFile,
			OutputFormat: cfdoh.LogFormat(cfg.QueryLogFormat),
		})
		if err != nil {
			return fmt.Errorf("failed to start query log: %w", err)
		}
		handlerOpt.QueryLog = ql
	}

	if cfg.Syslog {
		al, err := cfdoh.NewAuditLog(cfdoh.AuditLogOptions{
			Network:  cfg.SyslogNetwork,
			Address:  cfg.SyslogAddress,
			Priority: int(syslog.LOG_INFO),
			Tag:      cfg.SyslogTag,
		})
		if err != nil {
			return fmt.Errorf("failed to dial syslog audit log: %w", err)
		}
		handlerOpt.Audit = al
	}

	handler := cfdoh.NewHandler(upstreamClient, handlerOpt)

	var tlsConfig *tls.Config
	if !cfg.NoTLS {
		tlsConfig, err = serverTLSConfig(cfg)
		if err != nil {
			return fmt.Errorf("failed to build server TLS config: %w", err)
		}
	}

	frontend := cfdoh.NewHTTPFrontend(cfg.Listen, handler, tlsConfig)
	if ip, err := trustedProxyAddr(cfg.TrustedProxy); err == nil && ip != nil {
		frontend.HTTPProxyAddr = ip
	}

	go func() {
		for {
			err := frontend.Start()
			cfdoh.Log.WithError(err).Error("listener failed")
			time.Sleep(time.Second)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	<-sig
	cfdoh.Log.Info("stopping")
	return frontend.Stop()
}

