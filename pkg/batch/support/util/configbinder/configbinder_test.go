package configbinder_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/batchmig/pkg/batch/support/util/configbinder"
)

type connection struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	Pool     struct {
		MaxOpenConns int `mapstructure:"max_open_conns"`
	} `mapstructure:"pool"`
}

func TestBind(t *testing.T) {
	var c connection
	err := configbinder.Bind(map[string]interface{}{
		"host":     "db",
		"port":     "5432",
		"password": 12345,
		"pool":     map[string]interface{}{"max_open_conns": "7"},
	}, &c)
	require.NoError(t, err)
	assert.Equal(t, "db", c.Host)
	assert.Equal(t, 5432, c.Port)
	assert.Equal(t, "12345", c.Password)
	assert.Equal(t, 7, c.Pool.MaxOpenConns)
}

func TestBind_Invalid(t *testing.T) {
	var c connection
	err := configbinder.Bind(map[string]interface{}{"port": "not-a-port"}, &c)
	assert.ErrorContains(t, err, "failed to decode properties")

	err = configbinder.Bind(map[string]interface{}{}, c)
	assert.ErrorContains(t, err, "failed to create mapstructure decoder")
}
