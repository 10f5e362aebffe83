// Package binance streams 24h mini-ticker close prices from the Binance
// combined websocket stream.
package binance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"SignalFeed/internal/domain/models"
	"SignalFeed/internal/service/worker"
	"SignalFeed/pkg/util"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const (
	streamSuffix   = "@miniTicker"
	miniTickerType = "24hrMiniTicker"
	// Binance caps the number of streams per control message.
	maxParamsPerMessage = 200
	writeTimeout        = 10 * time.Second
)

// Dialer opens combined-stream connections.
type Dialer struct {
	url    string
	dialer *websocket.Dialer
}

var _ worker.StreamDialer = (*Dialer)(nil)

// NewDialer creates a dialer for url, e.g. wss://stream.binance.com:9443/stream.
func NewDialer(url string) *Dialer {
	return &Dialer{
		url: url,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: 45 * time.Second,
		},
	}
}

// Dial connects. ctx bounds only the handshake.
func (d *Dialer) Dial(ctx context.Context) (worker.StreamConn, error) {
	ws, _, err := d.dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("binance dial: %w", err)
	}
	return &Conn{ws: ws}, nil
}

// Conn is one combined-stream connection. It is used by a single goroutine
// for writes and a single goroutine for reads.
type Conn struct {
	ws     *websocket.Conn
	nextID int64
}

type controlMessage struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// Subscribe adds mini-ticker streams for symbols such as "btcusdt".
func (c *Conn) Subscribe(ctx context.Context, ids []string) error {
	return c.control(ctx, "SUBSCRIBE", ids)
}

// Unsubscribe removes mini-ticker streams.
func (c *Conn) Unsubscribe(ctx context.Context, ids []string) error {
	return c.control(ctx, "UNSUBSCRIBE", ids)
}

func (c *Conn) control(ctx context.Context, method string, ids []string) error {
	streams := make([]string, 0, len(ids))
	for _, id := range ids {
		streams = append(streams, strings.ToLower(id)+streamSuffix)
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	for _, chunk := range util.Chunk(streams, maxParamsPerMessage) {
		c.nextID++
		if err := c.ws.SetWriteDeadline(deadline); err != nil {
			return err
		}
		if err := c.ws.WriteJSON(controlMessage{Method: method, Params: chunk, ID: c.nextID}); err != nil {
			return fmt.Errorf("binance %s: %w", strings.ToLower(method), err)
		}
	}
	return nil
}

// Next blocks for the next mini-ticker update. Acks and other event types are
// skipped; undecodable frames are reported as worker.ErrMalformed.
func (c *Conn) Next(_ context.Context) ([]models.Observation, error) {
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("binance read: %w", err)
		}
		obs, ok, err := parse(msg)
		if err != nil {
			return nil, err
		}
		if ok {
			return obs, nil
		}
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := c.ws.Close()
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

// parse decodes one frame. ok is false for frames that carry no price.
func parse(msg []byte) (obs []models.Observation, ok bool, err error) {
	if !gjson.ValidBytes(msg) {
		return nil, false, fmt.Errorf("%w: invalid json", worker.ErrMalformed)
	}
	root := gjson.ParseBytes(msg)

	if e := root.Get("error"); e.Exists() {
		return nil, false, fmt.Errorf("%w: request %d rejected: %s", worker.ErrMalformed, root.Get("id").Int(), e.Get("msg").String())
	}
	if root.Get("id").Exists() && root.Get("result").Exists() {
		return nil, false, nil
	}

	data := root.Get("data")
	if !data.Exists() {
		data = root
	}
	if data.Get("e").String() != miniTickerType {
		return nil, false, nil
	}

	symbol := strings.ToLower(data.Get("s").String())
	closePrice := data.Get("c")
	if symbol == "" || !closePrice.Exists() {
		return nil, false, fmt.Errorf("%w: mini ticker without symbol or close", worker.ErrMalformed)
	}
	price, err := decimal.NewFromString(closePrice.String())
	if err != nil {
		return nil, false, fmt.Errorf("%w: close %q: %v", worker.ErrMalformed, closePrice.String(), err)
	}

	o := models.Observation{AssetID: symbol, Price: price}
	if ts := data.Get("E").Int(); ts > 0 {
		o.ObservedAt = util.UnixAuto(ts)
	}
	return []models.Observation{o}, true, nil
}
