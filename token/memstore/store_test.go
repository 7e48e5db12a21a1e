package memstore_test

import (
	"testing"

	"github.com/jrsteele09/go-consent-server/token"
	"github.com/jrsteele09/go-consent-server/token/memstore"
	"github.com/jrsteele09/go-consent-server/token/storetest"
)

// TestTokenStore runs the shared token store suite in memory.
func TestTokenStore(t *testing.T) {
	storetest.TestStore(t, func(t *testing.T) token.Store {
		return memstore.New()
	})
}
