package vars

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestValueText(t *testing.T) {
	tests := []struct {
		name    string
		value   Value
		want    string
		wantErr bool
	}{
		{name: "null", value: Null(), want: ""},
		{name: "bool", value: Bool(true), want: "true"},
		{name: "integer number", value: Number(25), want: "25"},
		{name: "fraction", value: Number(0.5), want: "0.5"},
		{name: "large integer", value: Number(1e15), want: "1000000000000000"},
		{name: "string", value: String("web-1"), want: "web-1"},
		{name: "array", value: Strings("a"), wantErr: true},
		{name: "object", value: Object(map[string]Value{"a": Int(1)}), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.value.Text()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSnapshotLookup(t *testing.T) {
	snap := NewStore(map[string]Value{
		"user": Object(map[string]Value{
			"name": String("ann"),
			"tags": Strings("x", "y"),
		}),
		"items": Array(Object(map[string]Value{"id": Int(7)})),
	}).Snapshot()

	v, err := snap.Lookup("user.name")
	require.NoError(t, err)
	assert.Equal(t, "ann", v.String())

	v, err = snap.Lookup("user.tags.1")
	require.NoError(t, err)
	assert.Equal(t, "y", v.String())

	v, err = snap.Lookup("items.0.id")
	require.NoError(t, err)
	assert.Equal(t, "7", v.String())

	for _, path := range []string{"missing", "user.age", "user.tags.5", "user.name.first", "items.x"} {
		_, err := snap.Lookup(path)
		var pe *PathError
		assert.ErrorAs(t, err, &pe, path)
		assert.Equal(t, path, pe.Path)
	}
}

func TestStoreLayersLaterWins(t *testing.T) {
	s := NewStore(
		map[string]Value{"env": String("dev"), "region": String("eu")},
		map[string]Value{"env": String("prod")},
	)
	v, ok := s.Get("env")
	require.True(t, ok)
	assert.Equal(t, "prod", v.String())
	v, ok = s.Get("region")
	require.True(t, ok)
	assert.Equal(t, "eu", v.String())
}

func TestSnapshotIsolatedFromWrites(t *testing.T) {
	s := NewStore(map[string]Value{"a": String("1")})
	snap := s.Snapshot()
	s.SetString("a", "2")
	s.SetString("b", "3")

	assert.Equal(t, "1", snap["a"].String())
	_, ok := snap["b"]
	assert.False(t, ok)
	assert.Equal(t, 2, s.Len())
}

func TestStoreConcurrentWrites(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.SetString(fmt.Sprintf("k%d", i), "v")
			_ = s.Snapshot()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, s.Len())
}

func TestSnapshotEnvSkipsComposite(t *testing.T) {
	snap := NewStore(map[string]Value{
		"HOST":  String("db"),
		"PORT":  Int(5432),
		"LIST":  Strings("a"),
		"EMPTY": Null(),
	}).Snapshot()
	env := snap.Env()
	assert.Equal(t, map[string]string{"HOST": "db", "PORT": "5432", "EMPTY": ""}, env)
}

func TestValueFromYAML(t *testing.T) {
	var decoded map[string]Value
	src := "name: api\nreplicas: 3\nports: [80, 443]\nmeta:\n  owner: ops\n  on: true\n"
	require.NoError(t, yaml.Unmarshal([]byte(src), &decoded))

	assert.True(t, decoded["name"].Equal(String("api")))
	assert.True(t, decoded["replicas"].Equal(Int(3)))
	assert.Equal(t, KindArray, decoded["ports"].Kind())
	assert.Equal(t, 2, decoded["ports"].Len())
	owner, err := decoded["meta"].Lookup("owner")
	require.NoError(t, err)
	assert.Equal(t, "ops", owner.String())
	assert.Equal(t, []string{"on", "owner"}, decoded["meta"].Keys())
}

func TestValueStringComposite(t *testing.T) {
	assert.Equal(t, `["a","b"]`, Strings("a", "b").String())
}
