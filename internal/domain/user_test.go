package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexibleIDDecodes(t *testing.T) {
	tests := map[string]FlexibleID{
		`{"id":42}`:    "42",
		`{"id":"k1"}`:  "k1",
		`{"id":null}`:  "",
		`{}`:           "",
		`{"id":1e3}`:   "1e3",
		`{"id":"007"}`: "007",
	}
	for in, want := range tests {
		var u User
		require.NoError(t, json.Unmarshal([]byte(in), &u), in)
		assert.Equal(t, want, u.ID, in)
	}
}

func TestFlexibleIDRejectsObjects(t *testing.T) {
	var u User
	assert.Error(t, json.Unmarshal([]byte(`{"id":{"x":1}}`), &u))
}

func TestUserRoles(t *testing.T) {
	var nilUser *User
	assert.False(t, nilUser.IsKid())
	assert.False(t, nilUser.IsParent())
	assert.True(t, (&User{Role: RoleKid}).IsKid())
	assert.True(t, (&User{Role: RoleParent}).IsParent())
	assert.False(t, Role("admin").Valid())
}

func TestCloneIsDeep(t *testing.T) {
	age := 8
	u := &User{ID: "k1", Age: &age, Interests: []string{"trees"}}
	c := u.Clone()
	*c.Age = 9
	c.Interests[0] = "rocks"
	assert.Equal(t, 8, *u.Age)
	assert.Equal(t, "trees", u.Interests[0])
}

func TestIsAbsentValue(t *testing.T) {
	for _, v := range []string{"", "null", "undefined"} {
		assert.True(t, IsAbsentValue(v), v)
	}
	assert.False(t, IsAbsentValue("tok"))
}
