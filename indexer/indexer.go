// Package indexer maintains the derived, order-keyed view over the
// append-only logs (§4.6): it decodes each newly appended message's
// payload, writes an indexed row, and emits a domain event; later, when
// the resolver materializes a referenced file, it backfills file_path
// on every row that named it and re-emits events for those rows.
package indexer

import (
	"fmt"

	"github.com/xendarboh/chatnode/events"
	"github.com/xendarboh/chatnode/filecatalog"
	"github.com/xendarboh/chatnode/store"
	"github.com/xendarboh/chatnode/wire/chatpb"
)

// Indexer implements repo.IndexSink.
type Indexer struct {
	st      *store.Store
	catalog *filecatalog.Catalog
	bus     *events.Bus
}

// New constructs an Indexer over the given store, file catalog, and
// event bus.
func New(st *store.Store, catalog *filecatalog.Catalog, bus *events.Bus) *Indexer {
	return &Indexer{st: st, catalog: catalog, bus: bus}
}

func orderID(order uint64, peerID string) string {
	return fmt.Sprintf("%08d-%s", order, peerID)
}

// IndexAppend decodes row.Payload and writes the corresponding indexed
// row, resolving file_path immediately if the referenced file is
// already in the local catalog.
func (ix *Indexer) IndexAppend(row store.MessageRow) error {
	payload, err := chatpb.UnmarshalPayload(row.Payload)
	if err != nil {
		return fmt.Errorf("indexer: decode payload: %w", err)
	}

	var filePath string
	if payload.FileID != "" {
		if desc, err := ix.catalog.Get(payload.FileID); err == nil {
			filePath = desc.LocalPath
		}
	}

	indexed := store.IndexedRow{
		OrderID:  orderID(row.Order, row.PeerID),
		Order:    row.Order,
		PeerID:   row.PeerID,
		Text:     payload.Text,
		Mentions: payload.Mentions,
		ReplyID:  payload.ReplyID,
		FileID:   payload.FileID,
		FilePath: filePath,
	}
	if err := ix.st.InsertIndexedRow(indexed); err != nil {
		return fmt.Errorf("indexer: insert row: %w", err)
	}
	if ix.bus != nil {
		ix.bus.SendMessage(indexed)
	}
	return nil
}

// UpdateFilePath sets file_path on every indexed row referencing
// fileID and re-emits a Message event for each, now that the file is
// available.
func (ix *Indexer) UpdateFilePath(fileID, localPath string) error {
	rows, err := ix.st.UpdateFilePath(fileID, localPath)
	if err != nil {
		return fmt.Errorf("indexer: update file path: %w", err)
	}
	if ix.bus != nil {
		for _, row := range rows {
			ix.bus.SendMessage(row)
		}
	}
	return nil
}

// GetAllAfter returns every indexed row after orderID, in order.
func (ix *Indexer) GetAllAfter(orderID string) ([]store.IndexedRow, error) {
	return ix.st.GetAllAfter(orderID)
}
