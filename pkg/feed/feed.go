// Package feed 提供市场数据 WebSocket 客户端：按 asset id 订阅，
// 推送 top-of-book 更新，断线自动重连并重放全部订阅。
package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// BookHandler 收到某资产的最优买卖价时被调用。
// bid/ask 为小数价格（0 表示该侧无报价）。在读取 goroutine 上执行，必须快速返回。
type BookHandler func(assetID string, bestBid, bestAsk float64, at time.Time)

type Config struct {
	URL      string
	ProxyURL string

	PingInterval         time.Duration
	HandshakeTimeout     time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
}

func DefaultConfig(wsURL string) Config {
	return Config{
		URL:                  wsURL,
		PingInterval:         10 * time.Second,
		HandshakeTimeout:     15 * time.Second,
		ReconnectDelay:       time.Second,
		MaxReconnectDelay:    30 * time.Second,
		MaxReconnectAttempts: 0, // 0 = 无上限
	}
}

// Client 市场数据流客户端
type Client struct {
	cfg     Config
	handler BookHandler
	log     *logrus.Entry

	connMu sync.Mutex
	conn   *websocket.Conn

	subMu         sync.Mutex
	subscriptions map[string]struct{}

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	reconnectAttempts int
}

func NewClient(cfg Config, handler BookHandler) *Client {
	return &Client{
		cfg:           cfg,
		handler:       handler,
		log:           logrus.WithField("component", "feed"),
		subscriptions: make(map[string]struct{}),
	}
}

// Start 建立连接并启动读取/心跳循环。初始连接失败是致命错误（无法开始交易）。
func (c *Client) Start() error {
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return fmt.Errorf("feed 已在运行")
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.runMu.Unlock()

	if err := c.connect(); err != nil {
		c.runMu.Lock()
		c.running = false
		c.runMu.Unlock()
		return fmt.Errorf("feed 初始连接失败: %w", err)
	}

	go c.readLoop()
	go c.pingLoop()

	c.log.Infof("✅ feed 已连接: %s", c.cfg.URL)
	return nil
}

// Stop 关闭连接并等待循环退出。
func (c *Client) Stop() {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.runMu.Unlock()

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	select {
	case <-c.doneCh:
	case <-time.After(5 * time.Second):
		c.log.Warn("⚠️ feed 关闭超时")
	}
	c.log.Info("🛑 feed 已停止")
}

// Subscribe 订阅一批资产（重复订阅自动去重）。
func (c *Client) Subscribe(assetIDs ...string) error {
	c.subMu.Lock()
	fresh := make([]string, 0, len(assetIDs))
	for _, id := range assetIDs {
		if id == "" {
			continue
		}
		if _, ok := c.subscriptions[id]; !ok {
			c.subscriptions[id] = struct{}{}
			fresh = append(fresh, id)
		}
	}
	c.subMu.Unlock()

	if len(fresh) == 0 {
		return nil
	}
	return c.send(map[string]any{"type": "market", "assets_ids": fresh})
}

// Unsubscribe 取消订阅。
func (c *Client) Unsubscribe(assetIDs ...string) error {
	c.subMu.Lock()
	removed := make([]string, 0, len(assetIDs))
	for _, id := range assetIDs {
		if _, ok := c.subscriptions[id]; ok {
			delete(c.subscriptions, id)
			removed = append(removed, id)
		}
	}
	c.subMu.Unlock()

	if len(removed) == 0 {
		return nil
	}
	return c.send(map[string]any{"type": "unsubscribe", "assets_ids": removed})
}

// SwitchTo 周期切换时的一站式重订阅：退订旧资产、订阅新资产。
func (c *Client) SwitchTo(oldAssetIDs, newAssetIDs []string) {
	if err := c.Unsubscribe(oldAssetIDs...); err != nil {
		c.log.Debugf("⏭️ 退订失败（连接可能在重建）: %v", err)
	}
	if err := c.Subscribe(newAssetIDs...); err != nil {
		c.log.Warnf("⚠️ 订阅新周期资产失败: %v", err)
	}
}

func (c *Client) send(msg any) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("feed 未连接")
	}
	return c.conn.WriteJSON(msg)
}

func (c *Client) connect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	if c.cfg.ProxyURL != "" {
		proxy, err := url.Parse(c.cfg.ProxyURL)
		if err != nil {
			return fmt.Errorf("无效的代理 URL: %w", err)
		}
		dialer.Proxy = http.ProxyURL(proxy)
	}

	conn, _, err := dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		return err
	}
	c.conn = conn
	c.reconnectAttempts = 0
	return nil
}

func (c *Client) stopped() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Client) readLoop() {
	defer close(c.doneCh)

	for {
		if c.stopped() {
			return
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			if !c.reconnect() {
				return
			}
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			c.connMu.Lock()
			if c.conn != nil {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.connMu.Unlock()

			if c.stopped() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			c.log.Warnf("🔄 feed 读取错误，重连中: %v", err)
			if !c.reconnect() {
				return
			}
			continue
		}

		c.handleMessage(message)
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.connMu.Lock()
			conn := c.conn
			c.connMu.Unlock()
			if conn == nil {
				continue
			}
			// 上游用 "PING"/"PONG" 文本心跳，不走 ws 标准 ping 帧
			if err := conn.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
				c.log.Debugf("🔄 PING 发送失败: %v", err)
			}
		}
	}
}

// reconnect 带线性退避的重连 + 重放订阅。返回 false 表示应当退出读取循环。
func (c *Client) reconnect() bool {
	c.reconnectAttempts++
	if c.cfg.MaxReconnectAttempts > 0 && c.reconnectAttempts > c.cfg.MaxReconnectAttempts {
		c.log.Errorf("❌ 达到最大重连次数 (%d)，feed 退出", c.cfg.MaxReconnectAttempts)
		return false
	}

	delay := c.cfg.ReconnectDelay * time.Duration(c.reconnectAttempts)
	if delay > c.cfg.MaxReconnectDelay {
		delay = c.cfg.MaxReconnectDelay
	}

	select {
	case <-c.stopCh:
		return false
	case <-time.After(delay):
	}

	if err := c.connect(); err != nil {
		c.log.Warnf("🔄 重连失败 (attempt=%d): %v", c.reconnectAttempts, err)
		return true
	}

	// 重连后必须重放所有订阅，否则上游不会再推任何数据
	c.subMu.Lock()
	ids := make([]string, 0, len(c.subscriptions))
	for id := range c.subscriptions {
		ids = append(ids, id)
	}
	c.subMu.Unlock()
	if len(ids) > 0 {
		if err := c.send(map[string]any{"type": "market", "assets_ids": ids}); err != nil {
			c.log.Warnf("⚠️ 重连后重订阅失败: %v", err)
		} else {
			c.log.Infof("✅ feed 已重连并恢复 %d 个订阅", len(ids))
		}
	}
	return true
}

type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookMessage struct {
	EventType string      `json:"event_type"`
	AssetID   string      `json:"asset_id"`
	Bids      []bookLevel `json:"bids"`
	Asks      []bookLevel `json:"asks"`
	Timestamp string      `json:"timestamp"`
}

func (c *Client) handleMessage(data []byte) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return
	}
	// 文本心跳应答
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return
	}

	// 消息可能是单个对象或数组
	if trimmed[0] == '[' {
		var msgs []bookMessage
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return
		}
		for i := range msgs {
			c.dispatch(&msgs[i])
		}
		return
	}

	var msg bookMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return
	}
	c.dispatch(&msg)
}

func (c *Client) dispatch(msg *bookMessage) {
	if msg.EventType != "book" || msg.AssetID == "" || c.handler == nil {
		return
	}

	bid := bestOf(msg.Bids, true)
	ask := bestOf(msg.Asks, false)
	if bid == 0 && ask == 0 {
		return
	}

	at := time.Now()
	if ms, err := strconv.ParseInt(msg.Timestamp, 10, 64); err == nil && ms > 0 {
		at = time.UnixMilli(ms)
	}
	c.handler(msg.AssetID, bid, ask, at)
}

// bestOf 从价位列表里取最优价：买侧取最高价，卖侧取最低价。
// 上游不保证排序，这里自己扫。
func bestOf(levels []bookLevel, wantMax bool) float64 {
	best := 0.0
	for _, l := range levels {
		p, err := strconv.ParseFloat(l.Price, 64)
		if err != nil || p <= 0 {
			continue
		}
		if s, err := strconv.ParseFloat(l.Size, 64); err == nil && s <= 0 {
			continue
		}
		if best == 0 || (wantMax && p > best) || (!wantMax && p < best) {
			best = p
		}
	}
	return best
}
