package main

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"

	"github.com/xendarboh/chatnode/store"
	"github.com/xendarboh/chatnode/wire/chatpb"
)

func newMessageID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("generate message id: %w", err)
	}
	return id.String(), nil
}

// cmdWrite implements the original read_loop's "write" command: append
// a text message, authored now, to the local log.
func cmdWrite(args []string) error {
	fs := flag.NewFlagSet("write", flag.ExitOnError)
	cfgPath := fs.String("config", "", "path to the node's TOML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	text := strings.Join(fs.Args(), " ")
	if text == "" {
		return fmt.Errorf("write: a message is required")
	}

	n, err := build(*cfgPath, passphraseFromEnv())
	if err != nil {
		return err
	}
	defer n.close()

	id, err := newMessageID()
	if err != nil {
		return err
	}
	payload := (&chatpb.Payload{Text: text}).Marshal()
	if _, err := n.manager.AddOwnMessage(id, time.Now().Unix(), payload); err != nil {
		return fmt.Errorf("write: append message: %w", err)
	}
	fmt.Println("message added")
	return nil
}

// cmdFileSave implements "file_save": register a local file's path
// under file_id, usable immediately by any message that references it.
func cmdFileSave(args []string) error {
	fs := flag.NewFlagSet("file-save", flag.ExitOnError)
	cfgPath := fs.String("config", "", "path to the node's TOML config file")
	fileID := fs.String("id", "", "file id")
	path := fs.String("path", "", "local filesystem path")
	format := fs.String("format", "", "file extension, e.g. txt")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *fileID == "" || *path == "" {
		return fmt.Errorf("file-save: -id and -path are required")
	}

	n, err := build(*cfgPath, passphraseFromEnv())
	if err != nil {
		return err
	}
	defer n.close()

	desc := store.FileDescriptor{
		FileID:    *fileID,
		LocalPath: *path,
		Format:    *format,
		Timestamp: time.Now().Unix(),
	}
	if err := n.catalog.Save(desc); err != nil {
		return fmt.Errorf("file-save: %w", err)
	}
	fmt.Println("file saved")
	return nil
}

// cmdFileResolve implements "file_resolve": mark a file id as wanted,
// optionally naming a peer already known to have it.
func cmdFileResolve(args []string) error {
	fs := flag.NewFlagSet("file-resolve", flag.ExitOnError)
	cfgPath := fs.String("config", "", "path to the node's TOML config file")
	fileID := fs.String("id", "", "file id")
	peer := fs.String("peer", "", "peer id already known to have this file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *fileID == "" {
		return fmt.Errorf("file-resolve: -id is required")
	}

	n, err := build(*cfgPath, passphraseFromEnv())
	if err != nil {
		return err
	}
	defer n.close()

	n.resolver.MarkWant(*fileID, *peer)
	fmt.Println("file marked as wanted")
	return nil
}

// cmdFileMsg implements "file_msg": append a message referencing a
// file id without accompanying text.
func cmdFileMsg(args []string) error {
	fs := flag.NewFlagSet("file-msg", flag.ExitOnError)
	cfgPath := fs.String("config", "", "path to the node's TOML config file")
	fileID := fs.String("id", "", "file id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *fileID == "" {
		return fmt.Errorf("file-msg: -id is required")
	}

	n, err := build(*cfgPath, passphraseFromEnv())
	if err != nil {
		return err
	}
	defer n.close()

	id, err := newMessageID()
	if err != nil {
		return err
	}
	payload := (&chatpb.Payload{FileID: *fileID}).Marshal()
	if _, err := n.manager.AddOwnMessage(id, time.Now().Unix(), payload); err != nil {
		return fmt.Errorf("file-msg: append message: %w", err)
	}
	fmt.Println("message added")
	return nil
}

// cmdAddPeer implements "dial_add": seed the address book with a peer
// id and dialable address. The entry goes only into this process's
// in-memory address book; it is not written to the peers table, so it
// is gone when the command exits and a later serve does not see it.
func cmdAddPeer(args []string) error {
	fs := flag.NewFlagSet("add-peer", flag.ExitOnError)
	cfgPath := fs.String("config", "", "path to the node's TOML config file")
	peerID := fs.String("id", "", "peer id")
	addr := fs.String("addr", "", "dialable network address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *peerID == "" || *addr == "" {
		return fmt.Errorf("add-peer: -id and -addr are required")
	}

	n, err := build(*cfgPath, passphraseFromEnv())
	if err != nil {
		return err
	}
	defer n.close()

	n.addrBook.Set(*peerID, *addr)
	fmt.Println("peer added")
	return nil
}

// cmdReadAll implements "read_all": print every indexed message, in
// order, from the beginning of the log.
func cmdReadAll(args []string) error {
	fs := flag.NewFlagSet("read-all", flag.ExitOnError)
	cfgPath := fs.String("config", "", "path to the node's TOML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	n, err := build(*cfgPath, passphraseFromEnv())
	if err != nil {
		return err
	}
	defer n.close()

	rows, err := n.indexer.GetAllAfter("")
	if err != nil {
		return fmt.Errorf("read-all: %w", err)
	}
	for _, row := range rows {
		fmt.Printf("%s: %s\n", row.OrderID, row.Text)
	}
	return nil
}
