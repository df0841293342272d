// Command chatnode is the CLI entry point (§4.16): it wires identity,
// persistence, logging, metrics, the peer pool, the repository
// manager, the indexer, the resolver, and the sync engine together,
// then either serves as a long-running daemon or performs one of the
// original interactive command set's operations as a single-shot
// subcommand instead of a stdin REPL.
package main

import (
	"fmt"
	"os"

	"github.com/carlmjohnson/versioninfo"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: chatnode <command> [flags]

commands:
  serve         run the node until interrupted
  write         append a text message to the local log
  file-save     register a local file under a file id
  file-resolve  mark a file id as wanted, optionally naming a peer that has it
  file-msg      append a message referencing a file id
  add-peer      seed the address book with a peer id and address
  read-all      print every indexed message in order
  version       print build version information`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "serve":
		err = cmdServe(args)
	case "write":
		err = cmdWrite(args)
	case "file-save":
		err = cmdFileSave(args)
	case "file-resolve":
		err = cmdFileResolve(args)
	case "file-msg":
		err = cmdFileMsg(args)
	case "add-peer":
		err = cmdAddPeer(args)
	case "read-all":
		err = cmdReadAll(args)
	case "version", "--version":
		fmt.Println(versioninfo.Short())
		return
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "chatnode: unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "chatnode: %s\n", err)
		os.Exit(1)
	}
}
