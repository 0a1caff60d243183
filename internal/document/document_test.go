package document_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/acme-corp/meeting-archiver/internal/document"
	"github.com/acme-corp/meeting-archiver/internal/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeKeepsKeyOrderAndNumbers(t *testing.T) {
	in := `{"zeta":1,"alpha":{"date":"2024-01-10","n":1.50},"list":[true,null,"x"]}`
	v, err := document.Decode([]byte(in))
	require.NoError(t, err)

	require.Equal(t, document.KindMapping, v.Kind())
	var keys []string
	for _, e := range v.Entries() {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"zeta", "alpha", "list"}, keys)

	n, ok := v.Lookup("alpha", "n")
	require.True(t, ok)
	num, _ := n.AsNumber()
	assert.Equal(t, "1.50", num.String())

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, in, string(out))
}

func TestLookup(t *testing.T) {
	v := document.MustDecode(`{"meetingInfo":{"date":"2024-02-15"},"tags":["a"]}`)

	date, ok := v.Lookup("meetingInfo", "date")
	require.True(t, ok)
	s, _ := date.AsString()
	assert.Equal(t, "2024-02-15", s)

	_, ok = v.Lookup("meetingInfo", "missing")
	assert.False(t, ok)
	_, ok = v.Lookup("tags", "0")
	assert.False(t, ok, "lookup does not index sequences")
}

func TestMappingDuplicateKeys(t *testing.T) {
	v := document.MustDecode(`{"a":1,"b":2,"a":3}`)
	assert.Equal(t, 2, v.Len())
	a, _ := v.Get("a")
	assert.True(t, a.Equal(document.Number("3")))
	assert.Equal(t, "a", v.Entries()[0].Key)
}

func TestDecodeErrors(t *testing.T) {
	for _, in := range []string{``, `{`, `{"a":}`, `[1,2`, `1 2`} {
		_, err := document.Decode([]byte(in))
		assert.Error(t, err, "input %q", in)
	}
}

func TestDecodeDepthLimit(t *testing.T) {
	ok := strings.Repeat("[", document.MaxDepth) + strings.Repeat("]", document.MaxDepth)
	_, err := document.Decode([]byte(ok))
	require.NoError(t, err)

	deep := strings.Repeat("[", document.MaxDepth+1) + strings.Repeat("]", document.MaxDepth+1)
	_, err = document.Decode([]byte(deep))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMalformedRecord))
}

func TestMarshalDoesNotEscapeHTML(t *testing.T) {
	v := document.Mapping(document.Entry{Key: "a<b", Value: document.String("x & y")})
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	require.NoError(t, enc.Encode(v))
	assert.Equal(t, `{"a<b":"x & y"}`+"\n", buf.String())
}

func TestMapStrings(t *testing.T) {
	in := document.MustDecode(`{"a":"x","b":[1,"y",{"c":"z"}],"d":false}`)
	got := document.MapStrings(in, strings.ToUpper)
	want := document.MustDecode(`{"a":"X","b":[1,"Y",{"c":"Z"}],"d":false}`)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected result (-want +got):\n%s", diff)
	}
	assert.True(t, in.Equal(document.MustDecode(`{"a":"x","b":[1,"y",{"c":"z"}],"d":false}`)), "input must not change")
}

func TestWalk(t *testing.T) {
	v := document.MustDecode(`{"a":["x",{"b":null}]}`)
	var paths []string
	document.Walk(v, func(path []string, v document.Value) {
		paths = append(paths, strings.Join(path, ".")+"="+v.Kind().String())
	})
	assert.Equal(t, []string{"=mapping", "a=sequence", "a.0=string", "a.1=mapping", "a.1.b=null"}, paths)
}

func TestEqual(t *testing.T) {
	a := document.MustDecode(`{"a":1,"b":2}`)
	b := document.MustDecode(`{"b":2,"a":1}`)
	assert.False(t, a.Equal(b), "key order is significant")
	assert.True(t, document.Null().Equal(document.Value{}))
	assert.False(t, document.String("1").Equal(document.Number("1")))
}
