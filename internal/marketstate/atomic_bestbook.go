package marketstate

import (
	"sync/atomic"
	"time"

	"github.com/betbot/polebet/internal/domain"
)

// AtomicBestBook 提供"锁自由的 top-of-book 快照"。
//
// 目标：
// - 高频写入（WS）与高频读取（决策）解耦
// - 读取时拿到一致快照（避免多字段撕裂）
// - 只缓存决策需要的数据：UP/DOWN 的 best bid/ask
//
// 决策引擎在任一侧的价格事件到来时，需要读到另一侧最近缓存的 ask，
// 两侧更新的到达顺序没有任何保证。
//
// 价格单位：domain.Price.Pips（= 价格 * 10000，通常 1~9999）。
type AtomicBestBook struct {
	// packed: [up_bid_pips:16][up_ask_pips:16][down_bid_pips:16][down_ask_pips:16]
	pricesPacked    atomic.Uint64
	updatedAtUnixMs atomic.Int64
}

type Snapshot struct {
	UpBidPips   uint16
	UpAskPips   uint16
	DownBidPips uint16
	DownAskPips uint16

	UpdatedAt time.Time
}

// UpAsk 返回 UP 侧 best ask（小数）
func (s Snapshot) UpAsk() float64 { return float64(s.UpAskPips) / 10000.0 }

// DownAsk 返回 DOWN 侧 best ask（小数）
func (s Snapshot) DownAsk() float64 { return float64(s.DownAskPips) / 10000.0 }

func NewAtomicBestBook() *AtomicBestBook {
	return &AtomicBestBook{}
}

// Reset 清空所有缓存的 top-of-book 数据。
//
// 重要：必须"原地重置"，不能通过替换 *AtomicBestBook 指针来 reset。
// 上层通常会缓存 BestBook 指针，替换指针会导致它们继续读到旧对象里的旧周期数据。
func (b *AtomicBestBook) Reset() {
	if b == nil {
		return
	}
	b.pricesPacked.Store(0)
	b.updatedAtUnixMs.Store(0)
}

func (b *AtomicBestBook) Load() Snapshot {
	p := b.pricesPacked.Load()
	ms := b.updatedAtUnixMs.Load()

	var t time.Time
	if ms > 0 {
		t = time.UnixMilli(ms)
	}

	return Snapshot{
		UpBidPips:   uint16((p >> 48) & 0xFFFF),
		UpAskPips:   uint16((p >> 32) & 0xFFFF),
		DownBidPips: uint16((p >> 16) & 0xFFFF),
		DownAskPips: uint16(p & 0xFFFF),
		UpdatedAt:   t,
	}
}

func (b *AtomicBestBook) IsFresh(maxAge time.Duration) bool {
	if b == nil {
		return false
	}
	ms := b.updatedAtUnixMs.Load()
	if ms <= 0 {
		return false
	}
	return time.Since(time.UnixMilli(ms)) <= maxAge
}

// UpdateToken 更新某一侧（UP 或 DOWN）的 bid/ask 价格（pips=价格*10000）。
//
// bid/ask 任意一侧传 0 表示"不更新该字段"（保留旧值）。
func (b *AtomicBestBook) UpdateToken(token domain.TokenType, bidPips uint16, askPips uint16) {
	if b == nil {
		return
	}

	for {
		cur := b.pricesPacked.Load()
		upBid := uint16((cur >> 48) & 0xFFFF)
		upAsk := uint16((cur >> 32) & 0xFFFF)
		downBid := uint16((cur >> 16) & 0xFFFF)
		downAsk := uint16(cur & 0xFFFF)

		switch token {
		case domain.TokenTypeUp:
			if bidPips != 0 {
				upBid = bidPips
			}
			if askPips != 0 {
				upAsk = askPips
			}
		case domain.TokenTypeDown:
			if bidPips != 0 {
				downBid = bidPips
			}
			if askPips != 0 {
				downAsk = askPips
			}
		default:
			return
		}

		next := (uint64(upBid) << 48) | (uint64(upAsk) << 32) | (uint64(downBid) << 16) | uint64(downAsk)
		if b.pricesPacked.CompareAndSwap(cur, next) {
			break
		}
	}

	b.updatedAtUnixMs.Store(time.Now().UnixMilli())
}
