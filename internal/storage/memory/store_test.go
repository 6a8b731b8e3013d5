package memory

import (
	"testing"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/storage/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.Store {
		return NewStore()
	})
}
