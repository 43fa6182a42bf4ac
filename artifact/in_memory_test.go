package artifact

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pdlcmesh/core"
)

var _ core.ArtifactStore = (*InMemoryStore)(nil)

var (
	ctx  = context.Background()
	s1   = core.SessionKey{AppName: "sde_agent", ID: "s1"}
	nope = core.SessionKey{AppName: "sde_agent", ID: "nope"}
)

func TestInMemoryStore_SaveGetIsolation(t *testing.T) {
	s := NewInMemoryStore()
	data := []byte("hello")
	require.NoError(t, s.Save(ctx, s1, "task_id_1234567", data))

	data[0] = 'H'
	out, err := s.Get(ctx, s1, "task_id_1234567")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))

	out[0] = 'x'
	again, _ := s.Get(ctx, s1, "task_id_1234567")
	assert.Equal(t, "hello", string(again))
}

func TestInMemoryStore_Versions(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.Save(ctx, s1, "a", []byte("v0")))
	require.NoError(t, s.Save(ctx, s1, "a", []byte("v1")))

	assert.Equal(t, 2, s.Versions(s1, "a"))

	latest, err := s.Get(ctx, s1, "a")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(latest))

	first, err := s.Version(s1, "a", 0)
	require.NoError(t, err)
	assert.Equal(t, "v0", string(first))

	_, err = s.Version(s1, "a", 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStore_ListAndDelete(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.Save(ctx, s1, "b", nil))
	require.NoError(t, s.Save(ctx, s1, "a", nil))

	ids, err := s.List(ctx, s1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	other, err := s.List(ctx, core.SessionKey{AppName: "qa_agent", ID: "s1"})
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, s.Delete(ctx, s1, "a"))
	assert.ErrorIs(t, s.Delete(ctx, s1, "a"), ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, nope, "a"), ErrNotFound)

	_, err = s.Get(ctx, s1, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStore_Concurrency(t *testing.T) {
	s := NewInMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Save(ctx, s1, fmt.Sprintf("a%d", i), []byte("x"))
		}(i)
	}
	wg.Wait()

	ids, _ := s.List(ctx, s1)
	assert.Len(t, ids, 50)
}
