package secret

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/wip/internal/scope"
)

func TestBox_SealOpen(t *testing.T) {
	box := NewBox()

	sealed, err := box.Seal([]byte("hunter2"))
	require.NoError(t, err)
	assert.NotContains(t, sealed, "hunter2")

	again, err := box.Seal([]byte("hunter2"))
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ")

	plain, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(plain))
}

func TestBox_OtherKeyUndecryptable(t *testing.T) {
	sealed, err := NewBox().Seal([]byte("hunter2"))
	require.NoError(t, err)

	_, err = NewBox().Open(sealed)
	assert.ErrorIs(t, err, ErrUndecryptable)

	_, err = NewBox().Open("not base64!")
	assert.ErrorIs(t, err, ErrUndecryptable)
}

func TestSetGet_OnlyCiphertextPersisted(t *testing.T) {
	box := NewBox()
	store := scope.New()
	view := store.For("connect")

	require.NoError(t, Set(view, box, "password", "hunter2"))

	data, err := json.Marshal(store)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "hunter2"), "plain text leaked: %s", data)

	got, err := Get(view, box, "password")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)

	// после рестарта процесса ключ другой
	_, err = Get(view, NewBox(), "password")
	assert.ErrorIs(t, err, ErrUndecryptable)

	_, err = Get(view, box, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
