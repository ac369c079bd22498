package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/emperorhan/wallet-sentinel/internal/chain/ratelimit"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadTimeout  = 2 * wsPingInterval
)

// HTTPToWS derives the pubsub URL from a JSON-RPC URL.
func HTTPToWS(raw string) string {
	switch {
	case strings.HasPrefix(raw, "https://"):
		return "wss://" + strings.TrimPrefix(raw, "https://")
	case strings.HasPrefix(raw, "http://"):
		return "ws://" + strings.TrimPrefix(raw, "http://")
	default:
		return raw
	}
}

// WSToHTTP is the inverse of HTTPToWS.
func WSToHTTP(raw string) string {
	switch {
	case strings.HasPrefix(raw, "wss://"):
		return "https://" + strings.TrimPrefix(raw, "wss://")
	case strings.HasPrefix(raw, "ws://"):
		return "http://" + strings.TrimPrefix(raw, "ws://")
	default:
		return raw
	}
}

// AccountSubscription is one live accountSubscribe stream.
// Notifications is closed when the stream ends; if it ended because of a
// connection failure the cause is delivered on Errors first.
type AccountSubscription struct {
	conn           *websocket.Conn
	subscriptionID int64
	requestID      int

	notifications chan AccountNotification
	errs          chan error
	done          chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

type wsMessage struct {
	ID     *int            `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
	Params *struct {
		Result       json.RawMessage `json:"result"`
		Subscription int64           `json:"subscription"`
	} `json:"params,omitempty"`
}

// SubscribeAccount opens a websocket to the endpoint's pubsub URL and
// subscribes to lamport changes of address.
func (c *Client) SubscribeAccount(ctx context.Context, address, commitment string) (sub *AccountSubscription, err error) {
	defer func() { ratelimit.RecordRPCCall(c.name, "accountSubscribe", err) }()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	wsURL := c.wsURL
	if _, err := url.Parse(wsURL); err != nil {
		return nil, fmt.Errorf("accountSubscribe: parse url: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.httpClient.Timeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("accountSubscribe: dial: %w", err)
	}

	req := c.newRequest("accountSubscribe", []interface{}{
		address,
		map[string]string{"encoding": "jsonParsed", "commitment": commitment},
	})

	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("accountSubscribe: write: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	} else {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	}
	subID, err := awaitSubscriptionID(conn, req.ID)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("accountSubscribe: %w", err)
	}

	sub = &AccountSubscription{
		conn:           conn,
		subscriptionID: subID,
		requestID:      req.ID,
		notifications:  make(chan AccountNotification, 16),
		errs:           make(chan error, 1),
		done:           make(chan struct{}),
	}
	go sub.readLoop()
	go sub.pingLoop()

	c.logger.Debug("account subscribed", "subscription", subID)
	return sub, nil
}

func awaitSubscriptionID(conn *websocket.Conn, requestID int) (int64, error) {
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return 0, fmt.Errorf("read: %w", err)
		}
		if msg.ID == nil || *msg.ID != requestID {
			continue
		}
		if msg.Error != nil {
			return 0, msg.Error
		}
		var id int64
		if err := json.Unmarshal(msg.Result, &id); err != nil {
			return 0, fmt.Errorf("unmarshal subscription id: %w", err)
		}
		return id, nil
	}
}

// ID returns the server-assigned subscription id.
func (s *AccountSubscription) ID() int64 {
	return s.subscriptionID
}

// Notifications yields account updates in arrival order.
func (s *AccountSubscription) Notifications() <-chan AccountNotification {
	return s.notifications
}

// Errors yields at most one error describing why the stream ended.
func (s *AccountSubscription) Errors() <-chan error {
	return s.errs
}

// Unsubscribe sends accountUnsubscribe and closes the connection.
// Calling it more than once is safe and returns the first result.
func (s *AccountSubscription) Unsubscribe() error {
	s.closeOnce.Do(func() {
		close(s.done)

		s.writeMu.Lock()
		s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		err := s.conn.WriteJSON(Request{
			JSONRPC: "2.0",
			ID:      s.requestID + 1,
			Method:  "accountUnsubscribe",
			Params:  []interface{}{s.subscriptionID},
		})
		if err == nil {
			err = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		}
		s.writeMu.Unlock()

		if closeErr := s.conn.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			s.closeErr = fmt.Errorf("accountUnsubscribe(%d): %w", s.subscriptionID, err)
		}
	})
	return s.closeErr
}

func (s *AccountSubscription) readLoop() {
	defer close(s.notifications)
	defer close(s.errs)

	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		s.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		var msg wsMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			select {
			case <-s.done:
			default:
				s.errs <- fmt.Errorf("subscription dropped: %w", err)
			}
			return
		}
		if msg.Method != "accountNotification" || msg.Params == nil || msg.Params.Subscription != s.subscriptionID {
			continue
		}

		var n AccountNotification
		if err := json.Unmarshal(msg.Params.Result, &n); err != nil {
			continue
		}
		select {
		case s.notifications <- n:
		case <-s.done:
			return
		}
	}
}

func (s *AccountSubscription) pingLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
