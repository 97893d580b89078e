/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testPersonConfigYAML = `
person:
  name: Steve
  age: 33
  quota: 2M
  timeout: 1m30s
  tags: [a, b]
  preferences:
    sport: football
`

const testPersonConfigJSON = `
{
  "person": {
    "name": "Steve",
    "age": 33,
    "quota": "2M",
    "timeout": "1m30s",
    "tags": ["a", "b"],
    "preferences": {"sport": "football"}
  }
}
`

type testPreferences struct {
	Sport string `mapstructure:"sport"`
}

type testPersonConfig struct {
	KeyPrefixed
	Name        string
	Age         int
	Quota       ByteSize
	Timeout     time.Duration
	Tags        []string
	Preferences testPreferences
}

func newTestPersonConfig(options ...Option) *testPersonConfig {
	opts := ApplyOptions(options...)
	return &testPersonConfig{KeyPrefixed: NewKeyPrefixed(opts.KeyPrefix, "person")}
}

func (c *testPersonConfig) SetProviderDefaults(dp DataProvider) {
	dp.SetDefault("age", 18)
	dp.SetDefault("timeout", "5s")
}

func (c *testPersonConfig) Set(dp DataProvider) (err error) {
	if c.Name, err = dp.GetString("name"); err != nil {
		return err
	}
	if c.Age, err = dp.GetInt("age"); err != nil {
		return err
	}
	if c.Quota, err = dp.GetByteSize("quota"); err != nil {
		return err
	}
	if c.Timeout, err = dp.GetDuration("timeout"); err != nil {
		return err
	}
	if c.Tags, err = dp.GetStringSlice("tags"); err != nil {
		return err
	}
	return dp.UnmarshalKey("preferences", &c.Preferences)
}

type testFailingConfig struct{}

func (c *testFailingConfig) SetProviderDefaults(dp DataProvider) {}

func (c *testFailingConfig) Set(dp DataProvider) error {
	return dp.WrapKeyErr("broken", errors.New("always fails"))
}

func requireTestPerson(t *testing.T, cfg *testPersonConfig) {
	t.Helper()
	require.Equal(t, "Steve", cfg.Name)
	require.Equal(t, 33, cfg.Age)
	require.Equal(t, ByteSize(2*1024*1024), cfg.Quota)
	require.Equal(t, 90*time.Second, cfg.Timeout)
	require.Equal(t, []string{"a", "b"}, cfg.Tags)
	require.Equal(t, "football", cfg.Preferences.Sport)
}

func TestLoader_LoadFromReader(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		cfg := newTestPersonConfig()
		require.NoError(t, NewLoader(NewViperAdapter()).LoadFromReader(
			bytes.NewBufferString(testPersonConfigYAML), DataTypeYAML, cfg))
		requireTestPerson(t, cfg)
	})

	t.Run("json", func(t *testing.T) {
		cfg := newTestPersonConfig()
		require.NoError(t, NewLoader(NewViperAdapter()).LoadFromReader(
			bytes.NewBufferString(testPersonConfigJSON), DataTypeJSON, cfg))
		requireTestPerson(t, cfg)
	})

	t.Run("custom key prefix", func(t *testing.T) {
		cfg := newTestPersonConfig(WithKeyPrefix("people.first"))
		data := "people:\n  first:\n    name: Alice\n"
		require.NoError(t, NewLoader(NewViperAdapter()).LoadFromReader(bytes.NewBufferString(data), DataTypeYAML, cfg))
		require.Equal(t, "Alice", cfg.Name)
		require.Equal(t, 18, cfg.Age)
		require.Equal(t, 5*time.Second, cfg.Timeout)
		require.Nil(t, cfg.Tags)
	})

	t.Run("error is returned", func(t *testing.T) {
		err := NewLoader(NewViperAdapter()).LoadFromReader(
			bytes.NewBufferString(testPersonConfigYAML), DataTypeYAML, newTestPersonConfig(), &testFailingConfig{})
		require.EqualError(t, err, "broken: always fails")
	})
}

func TestLoader_UseEnvVars(t *testing.T) {
	t.Setenv("TEST_PERSON_NAME", "Bob")
	t.Setenv("TEST_PERSON_TAGS", "x, y")

	cfg := newTestPersonConfig()
	require.NoError(t, NewDefaultLoader("test").LoadFromReader(
		bytes.NewBufferString(testPersonConfigYAML), DataTypeYAML, cfg))
	require.Equal(t, "Bob", cfg.Name)
	require.Equal(t, []string{"x", "y"}, cfg.Tags)
}

func TestViperAdapter_GetStringFromSet(t *testing.T) {
	va := NewViperAdapter()
	const key = "stringfromset.key"
	set := []string{"one", "two", "three"}

	va.Set(key, "four")
	_, err := va.GetStringFromSet(key, set, false)
	require.EqualError(t, err, `stringfromset.key: unknown value "four", should be one of [one two three]`)

	va.Set(key, "ONE")
	_, err = va.GetStringFromSet(key, set, false)
	require.Error(t, err)

	got, err := va.GetStringFromSet(key, set, true)
	require.NoError(t, err)
	require.Equal(t, "one", got)
}

func TestViperAdapter_GetByteSize(t *testing.T) {
	va := NewViperAdapter()
	const key = "bytesize.key"

	for _, invVal := range []interface{}{-1, "not bytes", "1s", []string{"a"}} {
		va.Set(key, invVal)
		_, err := va.GetByteSize(key)
		require.Error(t, err, "%v is invalid byte size", invVal)
	}

	for val, want := range map[interface{}]ByteSize{
		"1K":   1024,
		"64Ki": 64 * 1024,
		"2MB":  2 * 1024 * 1024,
		512:    512,
		"100":  100,
	} {
		va.Set(key, val)
		got, err := va.GetByteSize(key)
		require.NoError(t, err)
		require.Equal(t, want, got, "value %v", val)
	}
}

func TestKeyPrefixedDataProvider(t *testing.T) {
	va := NewViperAdapter()
	require.NoError(t, va.SetFromReader(bytes.NewBufferString(testPersonConfigYAML), DataTypeYAML))

	dp := NewKeyPrefixedDataProvider(va, "person")
	require.True(t, dp.IsSet("name"))
	require.False(t, dp.IsSet("surname"))

	name, err := dp.GetString("name")
	require.NoError(t, err)
	require.Equal(t, "Steve", name)

	dp.Set("surname", "Smith")
	surname, err := va.GetString("person.surname")
	require.NoError(t, err)
	require.Equal(t, "Smith", surname)

	require.EqualError(t, dp.WrapKeyErr("age", errors.New("too old")), "person.age: too old")
}
