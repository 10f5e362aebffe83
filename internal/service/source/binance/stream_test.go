package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"SignalFeed/internal/service/worker"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	obs, ok, err := parse([]byte(`{"stream":"btcusdt@miniTicker","data":{"e":"24hrMiniTicker","E":1717171717123,"s":"BTCUSDT","c":"67187.33000000","o":"1","h":"2","l":"0.5","v":"10","q":"20"}}`))
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, obs, 1)
	assert.Equal(t, "btcusdt", obs[0].AssetID)
	assert.True(t, obs[0].Price.Equal(decimal.RequireFromString("67187.33")))
	assert.Equal(t, int64(1717171717123), obs[0].ObservedAt.UnixMilli())

	_, ok, err = parse([]byte(`{"result":null,"id":1}`))
	assert.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = parse([]byte(`{"stream":"btcusdt@trade","data":{"e":"trade","s":"BTCUSDT","p":"1"}}`))
	assert.NoError(t, err)
	assert.False(t, ok)

	_, _, err = parse([]byte(`not json`))
	assert.ErrorIs(t, err, worker.ErrMalformed)

	_, _, err = parse([]byte(`{"data":{"e":"24hrMiniTicker","s":"BTCUSDT","c":"abc"}}`))
	assert.ErrorIs(t, err, worker.ErrMalformed)

	_, _, err = parse([]byte(`{"error":{"code":2,"msg":"Invalid request"},"id":3}`))
	assert.ErrorIs(t, err, worker.ErrMalformed)
}

func TestConnSubscribeAndRead(t *testing.T) {
	received := make(chan controlMessage, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		var msg controlMessage
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		received <- msg
		_ = ws.WriteJSON(map[string]interface{}{"result": nil, "id": msg.ID})
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"stream":"ethusdt@miniTicker","data":{"e":"24hrMiniTicker","E":1717171717000,"s":"ETHUSDT","c":"3500.5"}}`))

		if err := ws.ReadJSON(&msg); err == nil {
			received <- msg
		}
	}))
	defer srv.Close()

	d := NewDialer("ws" + strings.TrimPrefix(srv.URL, "http"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := d.Dial(ctx)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Subscribe(ctx, []string{"ETHUSDT", "btcusdt"}))
	sub := <-received
	assert.Equal(t, "SUBSCRIBE", sub.Method)
	assert.Equal(t, []string{"ethusdt@miniTicker", "btcusdt@miniTicker"}, sub.Params)
	assert.Equal(t, int64(1), sub.ID)

	obs, err := conn.Next(ctx)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "ethusdt", obs[0].AssetID)

	require.NoError(t, conn.Unsubscribe(ctx, []string{"btcusdt"}))
	unsub := <-received
	assert.Equal(t, "UNSUBSCRIBE", unsub.Method)
	assert.Equal(t, int64(2), unsub.ID)

	raw, _ := json.Marshal(unsub)
	assert.Contains(t, string(raw), `"params":["btcusdt@miniTicker"]`)
}
