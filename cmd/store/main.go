package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/hongjun500/etp-go/internal/config"
	"github.com/hongjun500/etp-go/internal/handlers"
	"github.com/hongjun500/etp-go/internal/observe"
	"github.com/hongjun500/etp-go/internal/protocol"
	"github.com/hongjun500/etp-go/internal/session"
	"github.com/hongjun500/etp-go/internal/transport"
	"github.com/hongjun500/etp-go/pkg/logger"
)

// memStore is a toy in-memory backend for both Store and GrowingObject.
type memStore struct {
	mu      sync.Mutex
	objects map[string]protocol.Object
	parts   map[string][]protocol.Part
}

func newMemStore() *memStore {
	return &memStore{
		objects: make(map[string]protocol.Object),
		parts:   make(map[string][]protocol.Part),
	}
}

func (m *memStore) GetObject(uri string) ([]protocol.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[uri]
	if !ok {
		return nil, protocol.NewError(protocol.CodeInvalidURI, "no object at "+uri, 0)
	}
	return []protocol.Object{obj}, nil
}

func (m *memStore) PutObject(obj protocol.PutObject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[obj.URI] = protocol.Object{URI: obj.URI, ContentType: obj.ContentType, Data: obj.Data}
	return nil
}

func (m *memStore) DeleteObject(uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[uri]; !ok {
		return protocol.NewError(protocol.CodeInvalidURI, "no object at "+uri, 0)
	}
	delete(m.objects, uri)
	return nil
}

func (m *memStore) Get(uri string, _ *protocol.IndexValue) ([]protocol.Part, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parts, ok := m.parts[uri]
	if !ok {
		return nil, protocol.NewError(protocol.CodeInvalidURI, "no growing object at "+uri, 0)
	}
	return append([]protocol.Part(nil), parts...), nil
}

func (m *memStore) GetRange(uri string, _, _ protocol.IndexValue) ([]protocol.Part, error) {
	return m.Get(uri, nil)
}

func (m *memStore) PutPart(uri string, part protocol.Part) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.parts[uri] {
		if p.UID == part.UID {
			m.parts[uri][i] = part
			return nil
		}
	}
	m.parts[uri] = append(m.parts[uri], part)
	sort.SliceStable(m.parts[uri], func(i, j int) bool { return m.parts[uri][i].UID < m.parts[uri][j].UID })
	return nil
}

func (m *memStore) DeletePart(uri, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.parts[uri] {
		if p.UID == uid {
			m.parts[uri] = append(m.parts[uri][:i], m.parts[uri][i+1:]...)
			return nil
		}
	}
	return protocol.NewError(protocol.CodeInvalidURI, "no part "+uid, 0)
}

func (m *memStore) DeleteRange(uri string, _, _ protocol.IndexValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.parts, uri)
	return nil
}

func (m *memStore) ReplaceRange(uri string, _, _ protocol.IndexValue, parts []protocol.Part) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parts[uri] = append([]protocol.Part(nil), parts...)
	return nil
}

func main() {
	cfgPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.L().Sugar().Fatalw("config_load_failed", "err", err)
	}

	backend := newMemStore()
	srv := &transport.Server{
		Path:    cfg.WSPath,
		Catalog: protocol.CatalogV11(),
		Config: session.Config{
			ApplicationName:    cfg.ApplicationName,
			ApplicationVersion: cfg.ApplicationVersion,
			EncodingHeaderName: cfg.EncodingHeader,
			MaxFrameSize:       cfg.MaxFrameSize,
			RequestTimeout:     cfg.RequestTimeout.Std(),
			CloseTimeout:       cfg.CloseTimeout.Std(),
		},
		RegisterHandlers: func(s *session.Session) error {
			if err := s.Register(handlers.NewCoreServer()); err != nil {
				return err
			}
			if err := s.Register(handlers.NewStoreStore(backend)); err != nil {
				return err
			}
			return s.Register(handlers.NewGrowingStore(backend))
		},
	}

	go func() {
		if err := observe.StartHTTP(cfg.ObserveAddr); err != nil {
			logger.L().Sugar().Warnw("observe_http_stopped", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx, cfg.ListenAddr); err != nil {
		logger.L().Sugar().Infow("server_stopped", "err", err)
	}
}
