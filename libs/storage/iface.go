// Package storage provides a uniform interface over blob stores (S3, local
// filesystem, in-memory for tests). Objects are written under hierarchical
// string names and referenced afterwards by store specific IDs.
package storage

import (
	"errors"
	"io"
	"net/http"
	"time"
)

// ErrNoObject is returned when the requested object does not exist.
var ErrNoObject = errors.New("storage: no object")

type Store interface {
	Put(name string, data []byte, contentType string, meta map[string]string) (string, error)
	PutReader(name string, r io.ReadSeeker, size int64, contentType string, meta map[string]string) (string, error)
	Get(id string) ([]byte, http.Header, error)
	// GetHeader fetches the headers for an object without its data. It is
	// the cheap existence probe.
	GetHeader(id string) (http.Header, error)
	GetReader(id string) (io.ReadCloser, http.Header, error)
	Delete(id string) error
	ExpiringURL(id string, expiration time.Duration) (string, error)
}

// DeterministicStore is a Store whose IDs can be derived from the name
// given to Put(Reader) without performing the put.
type DeterministicStore interface {
	Store
	IDFromName(name string) string
}
