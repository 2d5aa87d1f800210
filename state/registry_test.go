package state

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ZenLiuCN/fn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterGet(t *testing.T) {
	r := NewRegistry()
	data := []byte("counter=1")
	r.Register("counter", data, "int")
	data[0] = 'X'
	got, ok := r.Get("counter")
	require.True(t, ok)
	assert.Equal(t, []byte("counter=1"), got, "registered data is copied")

	r.Register("counter", []byte("counter=2"), "int")
	got, _ = r.Get("counter")
	assert.Equal(t, []byte("counter=2"), got)
	e, _ := r.Lookup("counter")
	assert.Equal(t, "int", e.Type)
	assert.False(t, e.UpdatedAt.IsZero())

	_, ok = r.Get("missing")
	assert.False(t, ok)
	r.Clear()
	assert.Equal(t, 0, r.Len())
}

func TestCaptureRestorePreCaptureWins(t *testing.T) {
	r := NewRegistry()
	r.Register("k", []byte("d"), "bytes")
	s := r.Capture()
	r.Register("k", []byte("d2"), "bytes")
	r.Register("fresh", []byte("new"), "bytes")
	r.Restore(s)

	got, _ := r.Get("k")
	assert.Equal(t, []byte("d"), got)
	got, ok := r.Get("fresh")
	assert.True(t, ok, "keys registered during the reload window survive")
	assert.Equal(t, []byte("new"), got)
	assert.Equal(t, []string{"fresh", "k"}, r.Keys())
	r.Restore(nil)
}

func TestRestoreAfterClear(t *testing.T) {
	r := NewRegistry()
	r.Register("a", []byte{1}, "")
	r.Register("b", []byte{2}, "")
	s := r.Capture()
	r.Clear()
	r.Restore(s)
	assert.Equal(t, []string{"a", "b"}, r.Keys())
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, "a", s.Entries()[0].Key)
}

func TestRegistryConcurrent(t *testing.T) {
	r := NewRegistry()
	var w sync.WaitGroup
	for i := 0; i < 16; i++ {
		w.Add(1)
		go func(i int) {
			defer w.Done()
			for n := 0; n < 100; n++ {
				r.Register(string(rune('a'+i)), []byte{byte(n)}, "byte")
				_ = r.Capture()
				_, _ = r.Get("a")
			}
		}(i)
	}
	w.Wait()
	assert.Equal(t, 16, r.Len())
}

func TestRegistryJSON(t *testing.T) {
	r := NewRegistry()
	r.Register("k", []byte("v"), "string")
	var got map[string]Entry
	require.NoError(t, json.Unmarshal(fn.Panic1(json.Marshal(r)), &got))
	assert.Equal(t, []byte("v"), got["k"].Data)
	assert.Equal(t, "string", got["k"].Type)
}

type counter struct {
	Count int
	Label string
}

func TestTypedSaveLoad(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, Save(r, "counter", counter{Count: 3, Label: "clicks"}))
	e, _ := r.Lookup("counter")
	assert.Equal(t, "state.counter", e.Type)

	v, ok, err := Load[counter](r, "counter")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, counter{Count: 3, Label: "clicks"}, v)

	_, ok, err = Load[counter](r, "missing")
	assert.NoError(t, err)
	assert.False(t, ok)

	r.Register("bad", []byte{0xff}, "state.counter")
	_, ok, err = Load[counter](r, "bad")
	assert.True(t, ok)
	assert.Error(t, err)
}

func TestBoltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "hotswap.db")
	st := fn.Panic1(OpenBolt(path))
	s, err := st.Load()
	require.NoError(t, err)
	assert.Nil(t, s)

	r := NewRegistry()
	r.Register("a", []byte("one"), "string")
	r.Register("b", []byte("two"), "string")
	require.NoError(t, st.Save(r.Capture()))
	r.Register("a", []byte("changed"), "string")
	changed, _ := r.Lookup("a")
	require.NoError(t, st.Save(NewSnapshot(time.Now(), changed)))
	require.NoError(t, st.Close())

	st = fn.Panic1(OpenBolt(path))
	defer st.Close()
	s, err = st.Load()
	require.NoError(t, err)
	require.NotNil(t, s)
	require.Equal(t, 1, s.Len(), "save replaces the previous snapshot")
	got := s.Entries()[0]
	assert.Equal(t, "a", got.Key)
	assert.Equal(t, []byte("changed"), got.Data)
	assert.Equal(t, "string", got.Type)

	fresh := NewRegistry()
	fresh.Restore(s)
	data, _ := fresh.Get("a")
	assert.Equal(t, []byte("changed"), data)
}
