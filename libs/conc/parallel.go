package conc

import (
	"fmt"
	"strings"
	"sync"
)

// Errors is a slice of multiple errors
type Errors []error

// Error implements the error interface
func (e Errors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	s := make([]string, len(e))
	for i, err := range e {
		s[i] = err.Error()
	}
	return "multiple errors: " + strings.Join(s, "; ")
}

// Parallel helps with the pattern of starting multiple goroutines to do work
// in parallel and waiting for them all to complete (the normal use case for
// WaitGroup). It recovers panics and captures errors without the caller
// having to manage channels.
type Parallel struct {
	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

// NewParallel returns a new instance of Parallel.
func NewParallel() *Parallel {
	return &Parallel{}
}

// Go runs the provided function in the background handling panic recovery
// and error capture. It must not be called after Wait.
func (p *Parallel) Go(fn func() error) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if e := recover(); e != nil {
				err, ok := e.(error)
				if !ok {
					err = fmt.Errorf("runtime error: %v", e)
				}
				p.mu.Lock()
				p.errs = append(p.errs, err)
				p.mu.Unlock()
			}
		}()
		if err := fn(); err != nil {
			p.mu.Lock()
			p.errs = append(p.errs, err)
			p.mu.Unlock()
		}
	}()
}

// Wait waits for all goroutines started by Go to complete and returns all
// errors if any.
func (p *Parallel) Wait() error {
	p.wg.Wait()
	if len(p.errs) != 0 {
		return Errors(p.errs)
	}
	return nil
}
