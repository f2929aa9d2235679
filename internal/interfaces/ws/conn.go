package ws_interface

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vulpemventures/quorum/internal/core/application"
	"golang.org/x/sync/errgroup"
)

const outboxSize = 64

// conn serves a single client connection. Requests are handled concurrently,
// while every message to the client goes through the outbox, since the
// websocket connection supports only one concurrent writer.
type conn struct {
	ws           *websocket.Conn
	handler      *handler
	notifySvc    *application.NotificationService
	pingInterval time.Duration

	outbox chan interface{}

	lock          *sync.Mutex
	subscriptions map[string]func()
	wg            *sync.WaitGroup

	log  func(format string, a ...interface{})
	warn func(err error, format string, a ...interface{})
}

func newConn(
	ws *websocket.Conn, h *handler, notifySvc *application.NotificationService,
	pingInterval time.Duration,
	logFn func(format string, a ...interface{}),
	warnFn func(err error, format string, a ...interface{}),
) *conn {
	return &conn{
		ws:            ws,
		handler:       h,
		notifySvc:     notifySvc,
		pingInterval:  pingInterval,
		outbox:        make(chan interface{}, outboxSize),
		lock:          &sync.Mutex{},
		subscriptions: make(map[string]func()),
		wg:            &sync.WaitGroup{},
		log:           logFn,
		warn:          warnFn,
	}
}

// serve blocks until the client disconnects or ctx is done.
func (c *conn) serve(ctx context.Context) {
	c.ws.SetReadDeadline(time.Now().Add(2 * c.pingInterval))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(2 * c.pingInterval))
	})

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return c.readMessages(egCtx)
	})
	eg.Go(func() error {
		return c.writeMessages(egCtx)
	})

	err := eg.Wait()
	c.unsubscribeAll()
	c.wg.Wait()
	if err != nil && !isClosed(err) {
		c.warn(err, "connection with %s dropped", c.ws.RemoteAddr())
		return
	}
	c.log("connection with %s closed", c.ws.RemoteAddr())
}

func (c *conn) readMessages(ctx context.Context) error {
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var req Request
		if err := json.Unmarshal(msg, &req); err != nil {
			c.send(ctx, Response{
				ID: uuid.New().String(),
				Error: &ErrorMsg{
					Code:    ErrCodeInvalidArgument,
					Message: fmt.Sprintf("malformed request: %s", err),
				},
			})
			continue
		}
		if req.ID == "" {
			req.ID = uuid.New().String()
		}

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.send(ctx, c.handle(ctx, req))
		}()
	}
}

// writeMessages is the only writer of the connection. It also keeps the
// connection alive with periodic pings and closes it once ctx is done.
func (c *conn) writeMessages(ctx context.Context) error {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(defaultWriteTimeout),
			)
			c.ws.Close()
			return nil
		case msg := <-c.outbox:
			c.ws.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.ws.Close()
				return err
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(
				websocket.PingMessage, nil, time.Now().Add(defaultWriteTimeout),
			); err != nil {
				c.ws.Close()
				return err
			}
		}
	}
}

func (c *conn) handle(ctx context.Context, req Request) Response {
	var (
		result interface{}
		err    error
	)
	switch req.Method {
	case MethodSubscribe:
		result, err = c.subscribe(ctx, req)
	case MethodUnsubscribe:
		result, err = c.unsubscribe(req)
	default:
		result, err = c.handler.handle(ctx, req)
	}
	if err != nil {
		c.log("request %s (%s) failed: %s", req.ID, req.Method, err)
		return Response{ID: req.ID, Error: toErrorMsg(err)}
	}
	return Response{ID: req.ID, Result: result}
}

// subscribe starts forwarding the deltas of the given topics to the client.
// It returns the topics the client is subscribed to.
func (c *conn) subscribe(ctx context.Context, req Request) (interface{}, error) {
	var params SubscribeParams
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if len(params.Topics) == 0 {
		params.Topics = []string{TopicSigners, TopicSessions}
	}
	for _, topic := range params.Topics {
		if topic != TopicSigners && topic != TopicSessions {
			return nil, fmt.Errorf("%w: unknown topic %s", errInvalidParams, topic)
		}
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, topic := range params.Topics {
		if _, ok := c.subscriptions[topic]; ok {
			continue
		}
		switch topic {
		case TopicSigners:
			updates, unsubscribe := c.notifySvc.GetSignerUpdates(ctx)
			c.subscriptions[topic] = unsubscribe
			forward(ctx, c, updates, signerNotification)
		case TopicSessions:
			updates, unsubscribe := c.notifySvc.GetSessionUpdates(ctx)
			c.subscriptions[topic] = unsubscribe
			forward(ctx, c, updates, sessionNotification)
		}
	}

	return c.topics(), nil
}

func (c *conn) unsubscribe(req Request) (interface{}, error) {
	var params SubscribeParams
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if len(params.Topics) == 0 {
		for topic := range c.subscriptions {
			params.Topics = append(params.Topics, topic)
		}
	}
	for _, topic := range params.Topics {
		if unsubscribe, ok := c.subscriptions[topic]; ok {
			unsubscribe()
			delete(c.subscriptions, topic)
		}
	}
	return c.topics(), nil
}

func (c *conn) unsubscribeAll() {
	c.lock.Lock()
	defer c.lock.Unlock()

	for topic, unsubscribe := range c.subscriptions {
		unsubscribe()
		delete(c.subscriptions, topic)
	}
}

// forward pushes the notifications of the given feed to the client until
// the feed is closed or ctx is done.
func forward[T any](
	ctx context.Context, c *conn, updates <-chan T,
	toNotification func(T) Notification,
) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				if !c.send(ctx, toNotification(u)) {
					return
				}
			}
		}
	}()
}

func signerNotification(u application.SignerUpdate) Notification {
	n := Notification{Topic: TopicSigners, Removed: u.Removed}
	if u.Record != nil {
		v := toSignerView(*u.Record)
		n.Signer = &v
	}
	if u.Locked != nil {
		v := toLockedDeviceView(*u.Locked)
		n.Locked = &v
	}
	return n
}

func sessionNotification(u application.SessionUpdate) Notification {
	v := toSessionView(u.Session)
	return Notification{Topic: TopicSessions, Session: &v}
}

func (c *conn) send(ctx context.Context, msg interface{}) bool {
	select {
	case c.outbox <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *conn) topics() []string {
	topics := make([]string, 0, len(c.subscriptions))
	for _, topic := range []string{TopicSigners, TopicSessions} {
		if _, ok := c.subscriptions[topic]; ok {
			topics = append(topics, topic)
		}
	}
	return topics
}

func isClosed(err error) bool {
	return websocket.IsCloseError(
		err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
	) || errors.Is(err, websocket.ErrCloseSent)
}
