package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseObject_KeepsOrder(t *testing.T) {
	obj, err := ParseObject([]byte(`{"b":1,"a":{"nested":[1,2]},"C":"x"}`))
	require.NoError(t, err)
	require.Len(t, obj, 3)

	assert.Equal(t, "b", obj[0].Key)
	assert.Equal(t, "a", obj[1].Key)
	assert.Equal(t, `{"nested":[1,2]}`, string(obj[1].Value))
	assert.Equal(t, "C", obj[2].Key)
}

func TestObject_Index(t *testing.T) {
	obj, err := ParseObject([]byte(`{"title":"x","DOCUMENTID":"42"}`))
	require.NoError(t, err)

	idx, ok := obj.Index("DocumentId")
	assert.True(t, ok)
	assert.Equal(t, 1, idx)

	assert.True(t, obj.Has("Title"))
	assert.False(t, obj.Has("FileExtension"))
}

func TestHasKeys(t *testing.T) {
	t.Run("matches case-insensitively", func(t *testing.T) {
		found, err := HasKeys([]byte(`{"documentid":"a","data":{"FileExtension":"nested"}}`), DocumentIDKey, FileExtensionKey)
		require.NoError(t, err)
		assert.Equal(t, []bool{true, false}, found)
	})

	t.Run("non-object has no keys", func(t *testing.T) {
		found, err := HasKeys([]byte(`[1,2,3]`), DocumentIDKey)
		require.NoError(t, err)
		assert.Equal(t, []bool{false}, found)
	})

	t.Run("malformed object fails", func(t *testing.T) {
		_, err := HasKeys([]byte(`{"documentid":`), DocumentIDKey)
		assert.Error(t, err)
	})
}
