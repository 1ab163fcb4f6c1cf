package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/polebet/internal/domain"
)

func TestPlaceOrder_SerializesDecimalPrice(t *testing.T) {
	var got orderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/order", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(orderResponse{OrderID: "ord-1", Status: "LIVE"})
	}))
	defer srv.Close()

	c := NewOrderClient(srv.URL)
	placed, err := c.PlaceOrder(context.Background(), &domain.Order{
		ClientID:  "cli-1",
		AssetID:   "tok-up",
		Side:      domain.SideBuy,
		Price:     domain.Price{Pips: 5700},
		Size:      5,
		OrderType: domain.OrderTypeGTC,
	})
	require.NoError(t, err)

	// 5700 pips 必须序列化成精确的 0.57，不能带 float 噪声
	assert.Equal(t, "0.57", got.Price)
	assert.Equal(t, "5", got.Size)
	assert.Equal(t, "BUY", got.Side)
	assert.Equal(t, "ord-1", placed.OrderID)
	assert.Equal(t, domain.OrderStatusOpen, placed.Status)
}

func TestPlaceOrder_RejectedByUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(orderResponse{ErrorMsg: "not enough balance"})
	}))
	defer srv.Close()

	c := NewOrderClient(srv.URL)
	_, err := c.PlaceOrder(context.Background(), &domain.Order{
		AssetID:   "tok-up",
		Side:      domain.SideBuy,
		Price:     domain.Price{Pips: 5700},
		Size:      5,
		OrderType: domain.OrderTypeGTC,
	})
	assert.ErrorContains(t, err, "not enough balance")
}

func TestPlaceOrder_InvalidInput(t *testing.T) {
	c := NewOrderClient("http://unused")
	_, err := c.PlaceOrder(context.Background(), nil)
	assert.Error(t, err)

	_, err = c.PlaceOrder(context.Background(), &domain.Order{AssetID: "tok", Size: 5, Price: domain.Price{Pips: 0}})
	assert.Error(t, err, "价格不在盘口范围内")
}

func TestGetOrderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/data/order/ord-9", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(orderStatusResponse{
			ID:           "ord-9",
			Status:       "MATCHED",
			SizeMatched:  "5",
			OriginalSize: "5",
		})
	}))
	defer srv.Close()

	c := NewOrderClient(srv.URL)
	o, err := c.GetOrderStatus(context.Background(), "ord-9")
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	assert.Equal(t, 5.0, o.FilledSize)
	assert.True(t, o.IsFinalStatus())
	require.NotNil(t, o.FilledAt)
}

func TestMapOrderStatus(t *testing.T) {
	assert.Equal(t, domain.OrderStatusOpen, mapOrderStatus("live"))
	assert.Equal(t, domain.OrderStatusFilled, mapOrderStatus("FILLED"))
	assert.Equal(t, domain.OrderStatusPartial, mapOrderStatus("PARTIALLY_FILLED"))
	assert.Equal(t, domain.OrderStatusCanceled, mapOrderStatus("CANCELLED"))
	assert.Equal(t, domain.OrderStatusRejected, mapOrderStatus("REJECTED"))
	assert.Equal(t, domain.OrderStatusPending, mapOrderStatus("DELAYED"))
	assert.Equal(t, domain.OrderStatus(""), mapOrderStatus("whatever"))
}
