package memory_test

import (
	"testing"

	"github.com/example/training-booking/internal/persistence"
	"github.com/example/training-booking/internal/persistence/memory"
	"github.com/example/training-booking/internal/persistence/storetest"
)

func TestStorageContract(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T) persistence.Store {
		return memory.New()
	})
}
