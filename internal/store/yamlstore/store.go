// Package yamlstore keeps the source of truth in one YAML file per kind.
//
//	<dir>/authors.yaml
//	<dir>/publishers.yaml
//	...
//
// Each file is a sequence of entities. Reference write-back rewrites the
// file through a temporary file and a rename.
package yamlstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/constants"
	"github.com/agentstation/taxonsync/pkg/errors"
	"github.com/agentstation/taxonsync/pkg/fetch"
	"github.com/agentstation/taxonsync/pkg/logging"
)

// Store is a directory of YAML entity files.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New returns a store rooted at dir. The directory is created on first write.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the file holding kind.
func (s *Store) Path(kind catalog.Kind) string {
	return filepath.Join(s.dir, kind.String()+"s.yaml")
}

// ListPage implements fetch.Source.
func (s *Store) ListPage(ctx context.Context, kind catalog.Kind, cursor fetch.Cursor) (fetch.Page, error) {
	if err := ctx.Err(); err != nil {
		return fetch.Page{}, err
	}

	s.mu.Lock()
	entities, err := s.load(kind)
	s.mu.Unlock()
	if err != nil {
		return fetch.Page{}, err
	}

	size := cursor.PageSize
	if size <= 0 {
		size = constants.DefaultPageSize
	}
	page := max(cursor.Page, 1)
	start := min((page-1)*size, len(entities))
	end := min(start+size, len(entities))

	return fetch.Page{
		Items:       entities[start:end],
		TotalPages:  (len(entities) + size - 1) / size,
		CurrentPage: page,
	}, nil
}

// SaveRefs implements sync.RefWriter. The stored refs are replaced by refs.
func (s *Store) SaveRefs(ctx context.Context, kind catalog.Kind, internalID string, refs map[catalog.PlatformID]catalog.ExternalRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entities, err := s.load(kind)
	if err != nil {
		return err
	}
	for i := range entities {
		if entities[i].InternalID != internalID {
			continue
		}
		entities[i].ExternalRefs = refs
		if err := s.store(kind, entities); err != nil {
			return err
		}
		logging.FromContext(ctx).Debug().
			Str("kind", kind.String()).
			Str("internal_id", internalID).
			Int("refs", len(refs)).
			Msg("Saved external references")
		return nil
	}
	return errors.NewNotFoundError(kind.String(), internalID)
}

// Put replaces the whole collection of kind.
func (s *Store) Put(kind catalog.Kind, entities []catalog.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(kind, entities)
}

// List returns the whole collection of kind in file order.
func (s *Store) List(kind catalog.Kind) ([]catalog.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(kind)
}

func (s *Store) load(kind catalog.Kind) ([]catalog.Entity, error) {
	path := s.Path(kind)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapIO("read", path, err)
	}

	var entities []catalog.Entity
	if err := yaml.Unmarshal(data, &entities); err != nil {
		return nil, errors.WrapParse("yaml", path, err)
	}
	for i := range entities {
		if entities[i].Kind == "" {
			entities[i].Kind = kind
		}
	}
	return entities, nil
}

func (s *Store) store(kind catalog.Kind, entities []catalog.Entity) error {
	if err := os.MkdirAll(s.dir, constants.DirPermissions); err != nil {
		return errors.WrapIO("create", s.dir, err)
	}

	data, err := yaml.MarshalWithOptions(entities,
		yaml.Indent(2),
		yaml.IndentSequence(false),
	)
	if err != nil {
		return errors.WrapParse("yaml", s.Path(kind), err)
	}

	path := s.Path(kind)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".*")
	if err != nil {
		return errors.WrapIO("create", path, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(constants.FilePermissions); err != nil {
		_ = tmp.Close()
		return errors.WrapIO("chmod", tmp.Name(), err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.WrapIO("write", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapIO("close", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.WrapIO("rename", path, err)
	}
	return nil
}
