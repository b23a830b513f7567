package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseBool(t *testing.T) {
	t.Setenv("TEST_BOOL_YES", "yes")
	t.Setenv("TEST_BOOL_ZERO", "0")
	t.Setenv("TEST_BOOL_JUNK", "maybe")
	t.Setenv("TEST_BOOL_EMPTY", "")

	assert.True(t, ParseBool("TEST_BOOL_YES", false))
	assert.False(t, ParseBool("TEST_BOOL_ZERO", true))
	assert.True(t, ParseBool("TEST_BOOL_JUNK", true), "junk falls back to default")
	assert.True(t, ParseBool("TEST_BOOL_EMPTY", true), "empty falls back to default")
	assert.False(t, ParseBool("TEST_BOOL_UNSET", false))
}

func TestParseIntFallsBackOnJunk(t *testing.T) {
	t.Setenv("TEST_INT", "twelve")
	assert.Equal(t, 7, ParseInt("TEST_INT", 7))

	t.Setenv("TEST_INT", "12")
	assert.Equal(t, 12, ParseInt("TEST_INT", 7))
}

func TestParseDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "250ms")
	assert.Equal(t, 250*time.Millisecond, ParseDuration("TEST_DUR", time.Second))

	t.Setenv("TEST_DUR", "soon")
	assert.Equal(t, time.Second, ParseDuration("TEST_DUR", time.Second))
}

func TestParseStringEmptyEnvUsesDefault(t *testing.T) {
	t.Setenv("TEST_STR", "")
	assert.Equal(t, "fallback", ParseString("TEST_STR", "fallback"))
}
