package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// jsonPersister keeps the whole workflow in one JSON document. Its revision
// is the hash of the file contents.
type jsonPersister struct {
	path string
}

func createJSON(path string, doc *document) (*jsonPersister, error) {
	p := &jsonPersister{path: path}
	if _, err := p.write(doc); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *jsonPersister) readDocument() (*document, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", p.path, err)
	}
	return &doc, nil
}

func (p *jsonPersister) writeDocument(doc *document, _ *dirtySet, expect string) (string, error) {
	if err := p.checkRevision(expect); err != nil {
		return "", err
	}
	return p.write(doc)
}

func (p *jsonPersister) writeMeta(doc *document, expect string) (string, error) {
	if err := p.checkRevision(expect); err != nil {
		return "", err
	}
	return p.write(doc)
}

func (p *jsonPersister) checkRevision(expect string) error {
	rev, err := p.revision()
	if err != nil {
		return err
	}
	if rev != expect {
		return fmt.Errorf("%w: %s", ErrModifiedOnDisk, p.path)
	}
	return nil
}

// write replaces the file atomically and returns the new revision.
func (p *jsonPersister) write(doc *document) (string, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", p.path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p.path), filepath.Base(p.path)+".tmp*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), p.path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return hashBytes(data), nil
}

func (p *jsonPersister) revision() (string, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return "", err
	}
	return hashBytes(data), nil
}

func (p *jsonPersister) copyTo(path string) error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (p *jsonPersister) close() error { return nil }

func (p *jsonPersister) files() []string { return []string{p.path} }

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
