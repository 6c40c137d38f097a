package hitl_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/hitlflow/hitl"
	"github.com/BaSui01/hitlflow/testutil/storetest"
)

func TestMemoryStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) hitl.Store {
		s := hitl.NewMemoryStore()
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestMemoryStore_Closed(t *testing.T) {
	s := hitl.NewMemoryStore()
	assert.NoError(t, s.Close())
	assert.ErrorIs(t, s.Ping(context.Background()), hitl.ErrStoreClosed)
	_, err := s.Get(context.Background(), "x")
	assert.ErrorIs(t, err, hitl.ErrStoreClosed)
}
