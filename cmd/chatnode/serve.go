package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := fs.String("config", "", "path to the node's TOML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *cfgPath == "" {
		return fmt.Errorf("serve: -config is required")
	}

	n, err := build(*cfgPath, passphraseFromEnv())
	if err != nil {
		return err
	}
	defer n.close()

	listener, err := net.Listen("tcp", n.cfg.Network.BindAddress)
	if err != nil {
		return fmt.Errorf("serve: listen on %s: %w", n.cfg.Network.BindAddress, err)
	}
	defer listener.Close()

	n.log.Infof("chatnode: peer id %s listening on %s", n.identity.PeerID(), n.cfg.Network.BindAddress)

	n.engine.Run()
	n.resolver.Run()
	go acceptLoop(n, listener)
	if n.cfg.Metrics.Address != "" {
		go serveMetrics(n)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	n.log.Info("chatnode: shutting down")
	n.engine.Stop()
	n.resolver.Stop()
	n.pool.Stop()
	return nil
}

func acceptLoop(n *node, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			n.log.Warningf("serve: accept: %s", err)
			return
		}
		go func() {
			if err := n.pool.Accept(conn); err != nil {
				n.log.Warningf("serve: handshake with %s failed: %s", conn.RemoteAddr(), err)
				conn.Close()
			}
		}()
	}
}

func serveMetrics(n *node) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", n.metrics.Handler())
	if err := http.ListenAndServe(n.cfg.Metrics.Address, mux); err != nil {
		n.log.Warningf("serve: metrics listener: %s", err)
	}
}

// passphraseFromEnv reads the identity statefile passphrase from
// CHATNODE_PASSPHRASE; an unset variable decrypts/encrypts with an
// empty passphrase, which is adequate for a single-user local node but
// callers protecting a shared host should set it.
func passphraseFromEnv() []byte {
	return []byte(os.Getenv("CHATNODE_PASSPHRASE"))
}
