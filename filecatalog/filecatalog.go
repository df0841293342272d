// Package filecatalog is the local file_id -> FileDescriptor mapping
// (§4.7), a thin typed wrapper over the persistence collaborator's
// files table.
package filecatalog

import (
	"github.com/xendarboh/chatnode/store"
)

// Catalog is the local file catalog.
type Catalog struct {
	st *store.Store
}

// New wraps st as a Catalog.
func New(st *store.Store) *Catalog {
	return &Catalog{st: st}
}

// Save writes a new descriptor. Re-saving an existing file_id is
// rejected (store.ErrDuplicateFile).
func (c *Catalog) Save(desc store.FileDescriptor) error {
	return c.st.SaveFile(desc)
}

// Get looks up a descriptor by file_id.
func (c *Catalog) Get(fileID string) (*store.FileDescriptor, error) {
	return c.st.GetFile(fileID)
}

// Contains reports whether file_id is known locally.
func (c *Catalog) Contains(fileID string) (bool, error) {
	return c.st.ContainsFile(fileID)
}

// AllIDs returns every file_id known locally.
func (c *Catalog) AllIDs() ([]string, error) {
	return c.st.AllFileIDs()
}

// Intersect returns requested ∩ local_catalog, iterating the requested
// list (the spec's explicit resolution of the FileWantResponse
// ambiguity, §9).
func (c *Catalog) Intersect(requested []string) ([]string, error) {
	var out []string
	for _, id := range requested {
		ok, err := c.Contains(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, id)
		}
	}
	return out, nil
}
