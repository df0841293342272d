package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xendarboh/chatnode/config"
	"github.com/xendarboh/chatnode/events"
	"github.com/xendarboh/chatnode/filecatalog"
	"github.com/xendarboh/chatnode/identity"
	internallog "github.com/xendarboh/chatnode/internal/log"
	"github.com/xendarboh/chatnode/indexer"
	"github.com/xendarboh/chatnode/metrics"
	"github.com/xendarboh/chatnode/peerpool"
	"github.com/xendarboh/chatnode/repo"
	"github.com/xendarboh/chatnode/resolver"
	"github.com/xendarboh/chatnode/store"
	"github.com/xendarboh/chatnode/syncengine"

	logging "gopkg.in/op/go-logging.v1"
)

// node holds every collaborator wired together for one running (or
// one-shot) invocation of the binary.
type node struct {
	cfg        *config.Config
	logBackend *internallog.Backend
	log        *logging.Logger

	identity *identity.Identity
	st       *store.Store
	bus      *events.Bus
	catalog  *filecatalog.Catalog
	indexer  *indexer.Indexer
	manager  *repo.Manager
	resolver *resolver.Resolver
	addrBook *peerpool.AddressBook
	pool     *peerpool.Pool
	engine   *syncengine.Engine
	metrics  *metrics.Metrics
}

// build loads cfgPath and wires every collaborator together. passphrase
// unlocks (or creates) the node's identity statefile. Callers that only
// need one-shot command access (§4.16) may ignore engine.Run/pool
// listening and just use manager/catalog/resolver/st directly; callers
// running the full daemon call n.engine.Run(), n.resolver.Run(), and
// serve the listener themselves (see serve.go).
func build(cfgPath string, passphrase []byte) (*node, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("chatnode: create data dir: %w", err)
	}

	logBackend, err := internallog.New(cfg.Logging.Level, os.Stderr)
	if err != nil {
		return nil, err
	}

	id, err := identity.LoadOrCreate(filepath.Join(cfg.Storage.DataDir, "identity.enc"), passphrase)
	if err != nil {
		return nil, fmt.Errorf("chatnode: load identity: %w", err)
	}
	peerID := id.PeerID()

	st, err := store.Open(filepath.Join(cfg.Storage.DataDir, "store.db"))
	if err != nil {
		return nil, fmt.Errorf("chatnode: open store: %w", err)
	}

	if existing, err := st.GetLocalPeer(); err != nil && err != store.ErrNotFound {
		st.Close()
		return nil, fmt.Errorf("chatnode: look up local peer: %w", err)
	} else if existing == nil {
		row := store.PeerRow{
			ID:        peerID,
			Name:      cfg.Node.Name,
			PublicKey: id.PublicKey(),
			CreatedAt: time.Now().Unix(),
			IsLocal:   true,
		}
		if err := st.UpsertPeer(row); err != nil {
			st.Close()
			return nil, fmt.Errorf("chatnode: persist local peer: %w", err)
		}
	}

	bus := events.New()
	go bus.Run()
	catalog := filecatalog.New(st)
	ix := indexer.New(st, catalog, bus)

	manager, err := repo.NewManager(st, peerID)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("chatnode: init manager: %w", err)
	}
	manager.SetIndexer(ix)

	addrBook := peerpool.NewAddressBook()
	for _, p := range cfg.Peers {
		addrBook.Set(p.PeerID, p.Address)
	}

	engine := syncengine.New(peerID, manager, catalog, st, bus, cfg.WorkerPoolSize(), cfg.SweepInterval(), logBackend.GetLogger("syncengine"))
	manager.SetBroadcaster(engine)

	stagingDir := filepath.Join(cfg.Storage.DataDir, "staging")
	if err := os.MkdirAll(stagingDir, 0700); err != nil {
		st.Close()
		return nil, fmt.Errorf("chatnode: create staging dir: %w", err)
	}
	res := resolver.New(catalog, ix, engine, bus, stagingDir, logBackend.GetLogger("resolver"))
	engine.SetResolver(res)

	pool := peerpool.New(id, addrBook, engine, logBackend.GetLogger("peerpool"))
	engine.SetPool(pool)

	n := &node{
		cfg:        cfg,
		logBackend: logBackend,
		log:        logBackend.GetLogger("chatnode"),
		identity:   id,
		st:         st,
		bus:        bus,
		catalog:    catalog,
		indexer:    ix,
		manager:    manager,
		resolver:   res,
		addrBook:   addrBook,
		pool:       pool,
		engine:     engine,
		metrics:    metrics.New(),
	}
	return n, nil
}

// close releases the store handle. The daemon path (serve.go) also
// halts the pool, resolver, and engine first; one-shot commands never
// started those background loops, so closing the store is all they
// need.
func (n *node) close() {
	n.st.Close()
}
