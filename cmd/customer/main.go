package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/hongjun500/etp-go/internal/config"
	"github.com/hongjun500/etp-go/internal/handlers"
	"github.com/hongjun500/etp-go/internal/protocol"
	"github.com/hongjun500/etp-go/internal/session"
	"github.com/hongjun500/etp-go/internal/transport"
	"github.com/hongjun500/etp-go/pkg/logger"
)

func main() {
	cfgPath := flag.String("config", "", "path to YAML config")
	url := flag.String("url", "ws://127.0.0.1:9002/etp", "store endpoint")
	uri := flag.String("uri", "", "object uri to fetch")
	put := flag.String("put", "", "object content to store first (optional)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.L().Sugar().Fatalw("config_load_failed", "err", err)
	}
	if *uri == "" {
		fmt.Fprintln(os.Stderr, "usage: customer -uri eml://well/1 [-put data]")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess, err := transport.Dial(ctx, *url, cfg.Encoding, protocol.CatalogV11(), session.Config{
		ApplicationName:    cfg.ApplicationName,
		ApplicationVersion: cfg.ApplicationVersion,
		EncodingHeaderName: cfg.EncodingHeader,
		MaxFrameSize:       cfg.MaxFrameSize,
		RequestTimeout:     cfg.RequestTimeout.Std(),
		CloseTimeout:       cfg.CloseTimeout.Std(),
	})
	if err != nil {
		logger.L().Sugar().Fatalw("dial_failed", "url", *url, "err", err)
	}

	store := handlers.NewStoreCustomer()
	for _, h := range []session.Handler{handlers.NewCoreClient(), store, handlers.NewGrowingCustomer()} {
		if err := sess.Register(h); err != nil {
			logger.L().Sugar().Fatalw("register_failed", "err", err)
		}
	}

	requested := []protocol.SupportedProtocol{
		{Protocol: protocol.ProtocolStore, Version: protocol.V11, Role: protocol.RoleCustomer},
		{Protocol: protocol.ProtocolGrowingObject, Version: protocol.V11, Role: protocol.RoleCustomer},
	}
	if err := sess.Open(requested); err != nil {
		logger.L().Sugar().Fatalw("open_failed", "err", err)
	}
	defer func() { _ = sess.Close("done") }()

	fmt.Printf("session %s open\n", sess.SessionID())

	if *put != "" {
		if _, err := store.PutObject(*uri, "text/plain", []byte(*put)); err != nil {
			logger.L().Sugar().Fatalw("put_failed", "err", err)
		}
	}

	objs, err := store.GetObjectAwait(*uri, cfg.RequestTimeout.Std())
	if err != nil {
		logger.L().Sugar().Fatalw("get_failed", "uri", *uri, "err", err)
	}
	for _, o := range objs {
		fmt.Printf("%s (%s): %s\n", o.URI, o.ContentType, o.Data)
	}
}
