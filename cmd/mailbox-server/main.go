package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"github.com/faanross/hermnet/internal/config"
	"github.com/faanross/hermnet/internal/mailbox"
)

func main() {
	configFile := flag.String("config", "server.yaml", "YAML config file")
	envFile := flag.String("env", ".env", "dotenv file")
	httpAddr := flag.String("http", "", "HTTP listen address (overrides config)")
	dnsAddr := flag.String("dns", "", "DNS listen address (overrides config)")
	domain := flag.String("domain", "", "Domain to serve (overrides config)")
	dataFile := flag.String("data", "", "Persist messages to this file (overrides config)")
	flag.Parse()

	cfg, err := config.LoadServer(*configFile, *envFile)
	if err != nil {
		logrus.Fatalf("❌ %v", err)
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *dnsAddr != "" {
		cfg.DNSAddr = *dnsAddr
	}
	if *domain != "" {
		cfg.Domain = *domain
	}
	if *dataFile != "" {
		cfg.DataFile = *dataFile
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("❌ %v", err)
	}
	if err := config.SetupLogging(cfg.Log); err != nil {
		logrus.Fatalf("❌ %v", err)
	}

	if err := run(cfg); err != nil {
		logrus.Fatalf("❌ %v", err)
	}
}

func run(cfg *config.Server) error {
	storage, err := newStorage(cfg.DataFile)
	if err != nil {
		return err
	}
	keys, err := cfg.PublicKeys()
	if err != nil {
		return err
	}

	srv := mailbox.NewServer(mailbox.Config{
		Domain:        cfg.Domain,
		Keys:          keys,
		Retention:     cfg.Retention,
		CleanInterval: cfg.CleanInterval,
		ReportEvery:   cfg.ReportEvery,
	}, mailbox.NewQueue(storage))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printBanner(cfg, storage)

	var wg sync.WaitGroup
	errs := make(chan error, 3)

	wg.Add(2)
	go func() {
		defer wg.Done()
		srv.RunRetention(ctx)
	}()
	go func() {
		defer wg.Done()
		srv.RunStatusReporter(ctx)
	}()

	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		httpServer = &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logrus.WithField("addr", cfg.HTTPAddr).Info("HTTP API listening")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("http: %w", err)
			}
		}()
	}

	var dnsServers []*dns.Server
	if cfg.DNSAddr != "" {
		for _, network := range []string{"udp", "tcp"} {
			server := &dns.Server{Addr: cfg.DNSAddr, Net: network, Handler: srv}
			dnsServers = append(dnsServers, server)
			go func() {
				logrus.WithFields(logrus.Fields{"addr": cfg.DNSAddr, "net": server.Net}).Info("DNS listening")
				if err := server.ListenAndServe(); err != nil {
					errs <- fmt.Errorf("dns/%s: %w", server.Net, err)
				}
			}()
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
		fmt.Println("\n🛑 Shutting down...")
	case runErr = <-errs:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if httpServer != nil {
		httpServer.Shutdown(shutdownCtx)
	}
	for _, server := range dnsServers {
		server.ShutdownContext(shutdownCtx)
	}
	wg.Wait()

	if fs, ok := storage.(*mailbox.FileStorage); ok {
		if err := fs.Save(); err != nil {
			logrus.WithError(err).Error("Failed to save state")
		} else {
			fmt.Println("💾 State saved to disk")
		}
	}
	printStats(storage)

	return runErr
}

func newStorage(dataFile string) (mailbox.Storage, error) {
	if dataFile == "" {
		return mailbox.NewMemoryStorage(), nil
	}
	return mailbox.NewFileStorage(dataFile)
}

func printBanner(cfg *config.Server, storage mailbox.Storage) {
	fmt.Printf("\n🌐 Mailbox relay starting\n")
	fmt.Printf("📍 Domain:    %s\n", cfg.Domain)
	fmt.Printf("📡 HTTP:      %s\n", cfg.HTTPAddr)
	fmt.Printf("🔎 DNS:       %s (udp+tcp)\n", cfg.DNSAddr)
	if cfg.DataFile != "" {
		fmt.Printf("💾 Storage:   persistent (%s)\n", cfg.DataFile)
	} else {
		fmt.Printf("💾 Storage:   in-memory\n")
	}
	fmt.Printf("🧹 Retention: %v, cleanup every %v\n", cfg.Retention, cfg.CleanInterval)
	fmt.Printf("🔑 Keys:      %d published\n", len(cfg.Keys))
	printStats(storage)
}

func printStats(storage mailbox.Storage) {
	stats := storage.GetStats()
	fmt.Printf("\n📊 Storage Statistics:\n")
	fmt.Printf("   Total messages: %d\n", stats.TotalMessages)
	fmt.Printf("   New (undelivered): %d\n", stats.NewMessages)
	fmt.Printf("   Delivered: %d\n", stats.Delivered)
	fmt.Printf("   Consumed: %d\n", stats.Consumed)
	fmt.Printf("   Total chunks: %d\n", stats.TotalChunks)
}
