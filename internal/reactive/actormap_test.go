// SPDX-License-Identifier: MIT

package reactive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActorMapSetEmitsInsertThenUpdate(t *testing.T) {
	m := NewActorMap[string, int]("cache_map")
	diffs, unsub := m.Diffs()
	defer unsub()

	m.Set("file1", 1)
	select {
	case d := <-diffs:
		assert.Equal(t, MapInsert, d.Kind)
		assert.Equal(t, "file1", d.Key)
		assert.Equal(t, 1, d.Value)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for insert diff")
	}

	m.Set("file1", 2)
	select {
	case d := <-diffs:
		assert.Equal(t, MapUpdate, d.Kind)
		assert.Equal(t, 2, d.Value)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update diff")
	}

	v, ok := m.Get("file1")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestActorMapDeleteEmitsRemove(t *testing.T) {
	m := NewActorMap[string, int]("cache_map")
	m.Set("file1", 1)
	diffs, unsub := m.Diffs()
	defer unsub()

	m.Delete("file1")
	select {
	case d := <-diffs:
		assert.Equal(t, MapRemove, d.Kind)
		assert.Equal(t, "file1", d.Key)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for remove diff")
	}

	_, ok := m.Get("file1")
	assert.False(t, ok)
}

func TestActorMapDeleteMissingKeyIsNoop(t *testing.T) {
	m := NewActorMap[string, int]("cache_map")
	m.Delete("missing")
	assert.Equal(t, 0, m.Len())
}
