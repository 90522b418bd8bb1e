package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	sharedratelimit "github.com/snapcart/capture-api/internal/shared/ratelimit"
)

type mapConfig struct {
	values map[string]interface{}
}

func (c *mapConfig) GetString(key string) string {
	value, _ := c.values[key].(string)
	return value
}

func (c *mapConfig) GetInt(key string) int {
	value, _ := c.values[key].(int)
	return value
}

func (c *mapConfig) GetBool(key string) bool {
	value, _ := c.values[key].(bool)
	return value
}

func (c *mapConfig) GetDuration(key string) time.Duration {
	value, _ := c.values[key].(time.Duration)
	return value
}

func (c *mapConfig) GetFloat64(key string) float64 {
	value, _ := c.values[key].(float64)
	return value
}

func (c *mapConfig) GetStringSlice(key string) []string {
	value, _ := c.values[key].([]string)
	return value
}

func (c *mapConfig) GetStringMap(key string) map[string]interface{} {
	value, _ := c.values[key].(map[string]interface{})
	return value
}

func (c *mapConfig) IsSet(key string) bool {
	_, ok := c.values[key]
	return ok
}

func (c *mapConfig) AllSettings() map[string]interface{} {
	return c.values
}

func (c *mapConfig) WatchChanges() {}

func (c *mapConfig) OnChange(func()) {}

func (c *mapConfig) StopWatching() {}

func (c *mapConfig) Source() string { return "test" }

func TestIsSingleBinaryBin_TableDriven(t *testing.T) {
	tests := []struct {
		name     string
		bin      string
		expected bool
	}{
		{name: "empty is single binary", bin: "", expected: true},
		{name: "all is single binary", bin: "all", expected: true},
		{name: "all with padding", bin: "  ALL  ", expected: true},
		{name: "auth is module binary", bin: "auth", expected: false},
		{name: "checkout is module binary", bin: "checkout", expected: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, isSingleBinaryBin(tc.bin))
		})
	}
}

func TestParseRateLimitAlgorithm_TableDriven(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected sharedratelimit.Algorithm
	}{
		{name: "sliding window", value: "sliding_window", expected: sharedratelimit.AlgorithmSlidingWindow},
		{name: "fixed window", value: "fixed_window", expected: sharedratelimit.AlgorithmFixedWindow},
		{name: "padded and uppercased", value: "  SLIDING_WINDOW ", expected: sharedratelimit.AlgorithmSlidingWindow},
		{name: "default is token bucket", value: "", expected: sharedratelimit.AlgorithmTokenBucket},
		{name: "unknown falls back to token bucket", value: "leaky-cauldron", expected: sharedratelimit.AlgorithmTokenBucket},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, parseRateLimitAlgorithm(tc.value))
		})
	}
}

func TestModuleDBString_TableDriven(t *testing.T) {
	tests := []struct {
		name            string
		values          map[string]interface{}
		useModuleConfig bool
		expected        string
	}{
		{
			name: "module key wins when module config enabled",
			values: map[string]interface{}{
				"database.orders.host": "orders-db",
				"database.host":        "shared-db",
			},
			useModuleConfig: true,
			expected:        "orders-db",
		},
		{
			name: "module env key is the second choice",
			values: map[string]interface{}{
				"DATABASE_ORDERS_HOST": "orders-db-env",
				"database.host":        "shared-db",
			},
			useModuleConfig: true,
			expected:        "orders-db-env",
		},
		{
			name: "global key when module config disabled",
			values: map[string]interface{}{
				"database.orders.host": "orders-db",
				"database.host":        "shared-db",
			},
			useModuleConfig: false,
			expected:        "shared-db",
		},
		{
			name: "global env key as last resort",
			values: map[string]interface{}{
				"DATABASE_HOST": "env-db",
			},
			useModuleConfig: true,
			expected:        "env-db",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &mapConfig{values: tc.values}
			assert.Equal(t, tc.expected, moduleDBString(cfg, "orders", "host", tc.useModuleConfig))
		})
	}
}

func TestModuleDBInt(t *testing.T) {
	cfg := &mapConfig{values: map[string]interface{}{
		"database.orders.port": 5433,
		"database.port":        5432,
	}}

	assert.Equal(t, 5433, moduleDBInt(cfg, "orders", "port", true))
	assert.Equal(t, 5432, moduleDBInt(cfg, "orders", "port", false))
}
