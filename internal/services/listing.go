package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/polebet/internal/domain"
	"github.com/betbot/polebet/internal/ports"
)

// ListingClient 市场上架查询客户端。
//
// 两步解析（gamma 只给 conditionId，token 明细要回 CLOB 拿）：
//  1. GET {gamma}/markets?slug={slug} → conditionId / question
//  2. GET {clob}/markets/{conditionId} → token ids + outcome 索引
type ListingClient struct {
	gamma *resty.Client
	clob  *resty.Client
	log   *logrus.Entry
}

var _ ports.ListingService = (*ListingClient)(nil)

func NewListingClient(gammaBaseURL, clobBaseURL string) *ListingClient {
	return &ListingClient{
		gamma: newRestyClient(gammaBaseURL),
		clob:  newRestyClient(clobBaseURL),
		log:   logrus.WithField("service", "listing"),
	}
}

func newRestyClient(baseURL string) *resty.Client {
	// resty 会自动从环境变量读取代理配置（HTTP_PROXY / HTTPS_PROXY）
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json")
}

type gammaMarket struct {
	ConditionID string `json:"conditionId"`
	Question    string `json:"question"`
	Slug        string `json:"slug"`
	Active      bool   `json:"active"`
}

type clobToken struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Winner  bool   `json:"winner"`
}

type clobMarket struct {
	ConditionID string      `json:"condition_id"`
	Question    string      `json:"question"`
	Closed      bool        `json:"closed"`
	Tokens      []clobToken `json:"tokens"`
}

// Resolve 把 window slug 解析为完整市场定义。
// 上游还不认识这个 slug 时返回 ports.ErrWindowNotListed（边界附近属于预期）。
func (c *ListingClient) Resolve(ctx context.Context, slug string) (*domain.Market, error) {
	var markets []gammaMarket
	resp, err := c.gamma.R().
		SetContext(ctx).
		SetQueryParam("slug", slug).
		SetResult(&markets).
		Get("/markets")
	if err != nil {
		return nil, errors.Wrapf(err, "gamma 查询失败: slug=%s", slug)
	}
	if resp.StatusCode() == 404 {
		return nil, ports.ErrWindowNotListed
	}
	if resp.IsError() {
		return nil, errors.Errorf("gamma 返回 %d: slug=%s", resp.StatusCode(), slug)
	}
	if len(markets) == 0 || markets[0].ConditionID == "" {
		return nil, ports.ErrWindowNotListed
	}
	gm := markets[0]

	var cm clobMarket
	resp, err = c.clob.R().
		SetContext(ctx).
		SetResult(&cm).
		Get("/markets/" + gm.ConditionID)
	if err != nil {
		return nil, errors.Wrapf(err, "clob 市场查询失败: conditionId=%s", gm.ConditionID)
	}
	if resp.StatusCode() == 404 {
		return nil, ports.ErrWindowNotListed
	}
	if resp.IsError() {
		return nil, errors.Errorf("clob 返回 %d: conditionId=%s", resp.StatusCode(), gm.ConditionID)
	}

	m, err := marketFromTokens(slug, gm, cm)
	if err != nil {
		return nil, err
	}
	c.log.Debugf("✅ 周期已解析: slug=%s conditionId=%s up=%s down=%s",
		slug, m.ConditionID, m.UpAssetID, m.DownAssetID)
	return m, nil
}

func marketFromTokens(slug string, gm gammaMarket, cm clobMarket) (*domain.Market, error) {
	m := &domain.Market{
		Name:        strings.SplitN(slug, "-", 2)[0],
		Slug:        slug,
		ConditionID: gm.ConditionID,
		Question:    gm.Question,
		Timestamp:   periodStartFromSlug(slug),
	}
	for i, tok := range cm.Tokens {
		switch strings.ToLower(tok.Outcome) {
		case "up", "yes":
			m.UpAssetID = tok.TokenID
			m.UpOutcomeIndex = i
		case "down", "no":
			m.DownAssetID = tok.TokenID
			m.DownOutcomeIndex = i
		}
	}
	if !m.IsValid() {
		return nil, fmt.Errorf("市场 token 不完整: slug=%s tokens=%d", slug, len(cm.Tokens))
	}
	return m, nil
}

// periodStartFromSlug 从 slug 尾段取周期起点（{symbol}-{kind}-{tf}-{unix}）
func periodStartFromSlug(slug string) int64 {
	idx := strings.LastIndex(slug, "-")
	if idx < 0 || idx == len(slug)-1 {
		return 0
	}
	var ts int64
	for _, r := range slug[idx+1:] {
		if r < '0' || r > '9' {
			return 0
		}
		ts = ts*10 + int64(r-'0')
	}
	return ts
}
