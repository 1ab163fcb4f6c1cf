package services

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/polebet/internal/domain"
	"github.com/betbot/polebet/internal/ports"
)

// OrderClient 订单 API 客户端（提交 + 状态查询）。
//
// 价格/数量用 decimal 序列化，避免 float 直接格式化出现 0.5600000000000001
// 这类被撮合端拒绝的报价。
type OrderClient struct {
	http *resty.Client
	log  *logrus.Entry
}

var _ ports.OrderService = (*OrderClient)(nil)

func NewOrderClient(baseURL string) *OrderClient {
	return &OrderClient{
		http: newRestyClient(baseURL),
		log:  logrus.WithField("service", "orders"),
	}
}

type orderRequest struct {
	ClientID  string `json:"client_id"`
	TokenID   string `json:"token_id"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	OrderType string `json:"order_type"`
}

type orderResponse struct {
	OrderID     string `json:"orderID"`
	Status      string `json:"status"`
	SizeMatched string `json:"size_matched"`
	ErrorMsg    string `json:"errorMsg"`
}

// PlaceOrder 提交限价单，返回带交易所 OrderID 的订单副本。
func (c *OrderClient) PlaceOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	if order == nil || order.AssetID == "" || order.Size <= 0 || !order.Price.InBook() {
		return nil, errors.New("invalid order")
	}

	req := orderRequest{
		ClientID:  order.ClientID,
		TokenID:   order.AssetID,
		Side:      string(order.Side),
		Price:     decimal.NewFromInt(int64(order.Price.Pips)).Div(decimal.NewFromInt(10000)).String(),
		Size:      decimal.NewFromFloat(order.Size).String(),
		OrderType: string(order.OrderType),
	}

	var out orderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/order")
	if err != nil {
		return nil, errors.Wrapf(err, "提交订单失败: token=%s", order.AssetID)
	}
	if resp.IsError() || out.ErrorMsg != "" {
		return nil, errors.Errorf("订单被拒: http=%d msg=%s", resp.StatusCode(), out.ErrorMsg)
	}
	if out.OrderID == "" {
		return nil, errors.New("订单响应缺少 orderID")
	}

	placed := *order
	placed.OrderID = out.OrderID
	placed.Status = mapOrderStatus(out.Status)
	if placed.Status == "" {
		placed.Status = domain.OrderStatusOpen
	}
	c.log.Debugf("✅ 订单已提交: orderID=%s token=%s price=%s size=%s", out.OrderID, order.AssetID, req.Price, req.Size)
	return &placed, nil
}

type orderStatusResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	SizeMatched  string `json:"size_matched"`
	OriginalSize string `json:"original_size"`
}

// GetOrderStatus 查询订单的上游视图。
func (c *OrderClient) GetOrderStatus(ctx context.Context, orderID string) (*domain.Order, error) {
	var out orderStatusResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/data/order/" + orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "查询订单状态失败: orderID=%s", orderID)
	}
	if resp.IsError() {
		return nil, errors.Errorf("订单状态返回 %d: orderID=%s", resp.StatusCode(), orderID)
	}

	o := &domain.Order{
		OrderID: orderID,
		Status:  mapOrderStatus(out.Status),
	}
	if d, err := decimal.NewFromString(out.SizeMatched); err == nil {
		o.FilledSize, _ = d.Float64()
	}
	if d, err := decimal.NewFromString(out.OriginalSize); err == nil {
		o.Size, _ = d.Float64()
	}
	if o.Status == domain.OrderStatusFilled {
		now := time.Now()
		o.FilledAt = &now
	}
	return o, nil
}

func mapOrderStatus(s string) domain.OrderStatus {
	switch strings.ToUpper(s) {
	case "LIVE", "OPEN":
		return domain.OrderStatusOpen
	case "MATCHED", "FILLED":
		return domain.OrderStatusFilled
	case "PARTIALLY_FILLED", "PARTIAL":
		return domain.OrderStatusPartial
	case "CANCELED", "CANCELLED":
		return domain.OrderStatusCanceled
	case "REJECTED":
		return domain.OrderStatusRejected
	case "PENDING", "DELAYED":
		return domain.OrderStatusPending
	default:
		return ""
	}
}
