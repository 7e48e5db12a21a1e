package memstore_test

import (
	"testing"

	"github.com/jrsteele09/go-consent-server/consent"
	"github.com/jrsteele09/go-consent-server/consent/memstore"
	"github.com/jrsteele09/go-consent-server/consent/storetest"
)

// TestStore runs the shared store suite against the in-memory store.
func TestStore(t *testing.T) {
	storetest.TestStore(t, func(t *testing.T) consent.Store {
		return memstore.New()
	})
}
