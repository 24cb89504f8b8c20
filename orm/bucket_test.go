package orm

import (
	"testing"

	"github.com/iov-one/torasuri/errors"
	"github.com/iov-one/torasuri/store"
	"github.com/iov-one/torasuri/torasuritest/assert"
)

type counter struct {
	Name    string
	Count   int64
	Tags    []string
	Version uint32
}

func (c *counter) Validate() error {
	if c.Name == "" {
		return errors.Wrap(errors.ErrEmpty, "name")
	}
	return nil
}

func (c *counter) GetVersion() uint32  { return c.Version }
func (c *counter) SetVersion(v uint32) { c.Version = v }

func TestBucketOnePutDelete(t *testing.T) {
	db := store.NewMemStore()
	b := NewBucket("counters")

	var got counter
	err := b.One(db, []byte("a"), &got)
	assert.IsErr(t, errors.ErrNotFound, err)

	err = b.Put(db, []byte("a"), &counter{Name: "alpha", Count: 3, Tags: []string{"x"}})
	assert.Nil(t, err)

	assert.Nil(t, b.One(db, []byte("a"), &got))
	assert.Equal(t, counter{Name: "alpha", Count: 3, Tags: []string{"x"}}, got)

	err = b.Put(db, []byte("b"), &counter{})
	assert.IsErr(t, errors.ErrEmpty, err)

	assert.Nil(t, b.Delete(db, []byte("a")))
	assert.IsErr(t, errors.ErrNotFound, b.Delete(db, []byte("a")))
}

func TestBucketsDoNotOverlap(t *testing.T) {
	db := store.NewMemStore()
	a := NewBucket("alpha")
	b := NewBucket("alphabet")

	assert.Nil(t, a.Put(db, []byte("k"), &counter{Name: "a"}))
	assert.Nil(t, b.Put(db, []byte("k"), &counter{Name: "b"}))

	it, err := a.Scan(db, nil, false)
	assert.Nil(t, err)
	defer it.Release()

	var n int
	for {
		var c counter
		key, err := it.LoadNext(&c)
		if errors.ErrIteratorDone.Is(err) {
			break
		}
		assert.Nil(t, err)
		assert.Equal(t, []byte("k"), key)
		assert.Equal(t, "a", c.Name)
		n++
	}
	assert.Equal(t, 1, n)
}

func TestBucketScanPrefix(t *testing.T) {
	db := store.NewMemStore()
	b := NewBucket("counters")
	for _, k := range []string{"g1/a", "g1/b", "g2/a"} {
		assert.Nil(t, b.Put(db, []byte(k), &counter{Name: k}))
	}

	cases := map[string]struct {
		prefix  string
		reverse bool
		want    []string
	}{
		"one group": {prefix: "g1/", want: []string{"g1/a", "g1/b"}},
		"reverse":   {prefix: "g1/", reverse: true, want: []string{"g1/b", "g1/a"}},
		"all":       {prefix: "", want: []string{"g1/a", "g1/b", "g2/a"}},
		"none":      {prefix: "g3/", want: nil},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			it, err := b.Scan(db, []byte(tc.prefix), tc.reverse)
			assert.Nil(t, err)
			defer it.Release()

			var got []string
			for {
				var c counter
				key, err := it.LoadNext(&c)
				if errors.ErrIteratorDone.Is(err) {
					break
				}
				assert.Nil(t, err)
				assert.Equal(t, string(key), c.Name)
				got = append(got, c.Name)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestInvalidBucketName(t *testing.T) {
	assert.Panics(t, func() { NewBucket("X") })
}
