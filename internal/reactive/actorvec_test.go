// SPDX-License-Identifier: MIT

package reactive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActorVecPushEmitsInsert(t *testing.T) {
	v := NewActorVec[string]("files_vec")
	diffs, unsub := v.Diffs()
	defer unsub()

	v.Push("a")
	select {
	case d := <-diffs:
		assert.Equal(t, VecInsert, d.Kind)
		assert.Equal(t, 0, d.Index)
		assert.Equal(t, "a", d.Item)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for insert diff")
	}
	assert.Equal(t, []string{"a"}, v.Snapshot())
}

func TestActorVecRemoveAtEmitsRemove(t *testing.T) {
	v := NewActorVec[string]("files_vec")
	v.Push("a")
	v.Push("b")
	diffs, unsub := v.Diffs()
	defer unsub()

	v.RemoveAt(0)
	select {
	case d := <-diffs:
		assert.Equal(t, VecRemove, d.Kind)
		assert.Equal(t, "a", d.Item)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for remove diff")
	}
	assert.Equal(t, []string{"b"}, v.Snapshot())
}

func TestActorVecReplace(t *testing.T) {
	v := NewActorVec[int]("nums_vec")
	v.Replace([]int{1, 2, 3})
	require.Equal(t, 3, v.Len())
	assert.Equal(t, []int{1, 2, 3}, v.Snapshot())
}

func TestActorVecInsertAtIndex(t *testing.T) {
	v := NewActorVec[string]("files_vec")
	v.Push("a")
	v.Push("c")
	v.Insert(1, "b")
	assert.Equal(t, []string{"a", "b", "c"}, v.Snapshot())
}
