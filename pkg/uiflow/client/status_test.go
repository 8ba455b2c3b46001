package client

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
)

func TestReconnectDelay(t *testing.T) {
	cfg := DefaultReconnectConfig()

	assert.Equal(t, 1*time.Second, cfg.Delay(1))
	assert.Equal(t, 2*time.Second, cfg.Delay(2))
	assert.Equal(t, 4*time.Second, cfg.Delay(3))
	assert.Equal(t, 16*time.Second, cfg.Delay(5))
	assert.Equal(t, 30*time.Second, cfg.Delay(6))
	assert.Equal(t, 30*time.Second, cfg.Delay(1000))
	assert.Equal(t, 1*time.Second, cfg.Delay(0))

	custom := ReconnectConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: 250 * time.Millisecond}
	assert.Equal(t, 200*time.Millisecond, custom.Delay(2))
	assert.Equal(t, 250*time.Millisecond, custom.Delay(3))

	uncapped := ReconnectConfig{BaseDelay: time.Second}
	assert.Equal(t, 8*time.Second, uncapped.Delay(4))
	for _, attempt := range []int{34, 35, 40, 70, 1000} {
		d := uncapped.Delay(attempt)
		assert.Positive(t, d, "attempt %d", attempt)
		assert.GreaterOrEqual(t, d, uncapped.Delay(attempt-1), "attempt %d", attempt)
	}
	assert.Equal(t, time.Duration(math.MaxInt64), uncapped.Delay(1000))
}

func TestReconnectExhausted(t *testing.T) {
	unlimited := DefaultReconnectConfig()
	assert.False(t, unlimited.Exhausted(1_000_000))

	limited := ReconnectConfig{MaxAttempts: 3}
	assert.False(t, limited.Exhausted(3))
	assert.True(t, limited.Exhausted(4))
}

func TestStatus(t *testing.T) {
	cases := []struct {
		status       Status
		connected    bool
		connecting   bool
		disconnected bool
		description  string
	}{
		{Connecting, false, true, false, "Connecting..."},
		{Connected, true, false, false, "Connected"},
		{Reconnecting(1), false, true, false, "Reconnecting..."},
		{Reconnecting(3), false, true, false, "Reconnecting..."},
		{Reconnecting(4), false, true, false, "Connection unstable"},
		{Disconnected, false, false, true, "Disconnected"},
		{AuthFailed, false, false, true, "Authentication failed"},
	}

	for _, c := range cases {
		t.Run(c.status.String(), func(t *testing.T) {
			assert.Equal(t, c.connected, c.status.IsConnected())
			assert.Equal(t, c.connecting, c.status.IsConnecting())
			assert.Equal(t, c.disconnected, c.status.IsDisconnected())
			assert.Equal(t, c.description, c.status.Description())
		})
	}
}

func TestCloseInfo(t *testing.T) {
	assert.True(t, CloseInfo{Code: 4001}.IsAuthFailure())
	assert.True(t, CloseInfo{Code: 4009}.IsAuthFailure())
	assert.False(t, CloseInfo{Code: 4000}.IsAuthFailure())
	assert.False(t, CloseInfo{Code: 4010}.IsAuthFailure())

	assert.True(t, CloseInfo{Code: websocket.StatusNormalClosure}.IsNormal())
	assert.True(t, CloseInfo{Code: websocket.StatusGoingAway}.IsNormal())
	assert.False(t, CloseInfo{Code: websocket.StatusInternalError}.IsNormal())

	info := closeInfoFromError(websocket.CloseError{Code: 4004, Reason: "expired"})
	assert.True(t, info.IsAuthFailure())
	assert.Equal(t, "expired", info.Reason)

	info = closeInfoFromError(errors.New("reset by peer"))
	assert.Equal(t, websocket.StatusAbnormalClosure, info.Code)

	info = closeInfoFromError(&AuthError{Code: 4001, HTTPStatus: 403})
	assert.True(t, info.IsAuthFailure())
}
