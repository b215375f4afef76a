package evmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/marketcore/internal/evm"
)

// Dialer hands out backends by URL and counts dials.
type Dialer struct {
	mu       sync.Mutex
	backends map[string]*Backend
	dials    map[string]int
	// Fail makes the next dials of a URL fail while positive.
	fail map[string]int

	// BeforeDial, when set, runs at the start of every dial outside the
	// dialer's lock, so a test can hold a dial open.
	BeforeDial func(url string)
}

// NewDialer returns an empty Dialer.
func NewDialer() *Dialer {
	return &Dialer{
		backends: make(map[string]*Backend),
		dials:    make(map[string]int),
		fail:     make(map[string]int),
	}
}

// Register serves b for url.
func (d *Dialer) Register(url string, b *Backend) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.backends[url] = b
}

// FailNext makes the next n dials of url fail.
func (d *Dialer) FailNext(url string, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail[url] = n
}

// Dials returns how many times url was dialed.
func (d *Dialer) Dials(url string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[url]
}

func (d *Dialer) DialHTTP(_ context.Context, url string) (evm.Client, error) {
	return d.dial(url)
}

func (d *Dialer) DialWS(_ context.Context, url string) (evm.Client, error) {
	return d.dial(url)
}

func (d *Dialer) dial(url string) (evm.Client, error) {
	if d.BeforeDial != nil {
		d.BeforeDial(url)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials[url]++
	if d.fail[url] > 0 {
		d.fail[url]--
		return nil, fmt.Errorf("evmtest: dial %s refused", url)
	}
	b, ok := d.backends[url]
	if !ok {
		return nil, fmt.Errorf("evmtest: no backend for %s", url)
	}
	return b, nil
}
