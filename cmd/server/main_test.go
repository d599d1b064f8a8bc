package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebook/config"
)

func TestReplayOnEmptyHome(t *testing.T) {
	home := t.TempDir()
	a := &app{v: viper.New()}
	root := newRootCmd(a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"replay", "--home", home, "--log-level", "error"})
	require.NoError(t, root.Execute())

	var got struct {
		Replayed     int
		ActiveOrders int
		Seq          uint64
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Zero(t, got.Replayed)
	assert.Zero(t, got.Seq)
	assert.Equal(t, home, a.cfg.Home)
	assert.Equal(t, "error", a.cfg.Log.Level)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(&buf, config.LogConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)

	_, err = newLogger(&buf, config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestPublisherDisabledWithoutBrokers(t *testing.T) {
	p, err := newPublisher(config.KafkaConfig{})
	require.NoError(t, err)
	assert.Nil(t, p)
}
