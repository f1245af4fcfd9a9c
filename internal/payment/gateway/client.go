package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mealdash/orderflow/config"
	"github.com/mealdash/orderflow/internal/payment/domain"
)

// Client talks to the external payment gateway: it builds signed
// redirect URLs for intents and calls the refund endpoint.
type Client struct {
	http  *resty.Client
	cfg   config.GatewayConfig
	clock func() time.Time
}

func NewClient(cfg config.GatewayConfig) *Client {
	return &Client{
		http:  resty.New().SetTimeout(15 * time.Second).SetRetryCount(0),
		cfg:   cfg,
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// PayURL returns the signed redirect URL the customer's browser is sent
// to. Amounts are already minor units; they go on the wire unchanged.
func (c *Client) PayURL(ref string, amountCents int64, orderInfo string) string {
	params := map[string]string{
		ParamMerchantCode: c.cfg.MerchantCode,
		ParamTxnRef:       ref,
		ParamAmount:       strconv.FormatInt(amountCents, 10),
		ParamOrderInfo:    orderInfo,
		ParamReturnURL:    c.cfg.ReturnURL,
		ParamNotifyURL:    c.cfg.NotifyURL,
		ParamCreateDate:   c.clock().Format("20060102150405"),
	}
	params[SignatureParam] = Sign(params, c.cfg.Secret)

	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return c.cfg.Endpoint + "/pay?" + q.Encode()
}

type refundResponse struct {
	ResultCode string `json:"result_code"`
	Message    string `json:"message"`
}

// Refund asks the gateway to return money for a completed transaction.
// Any non-success result code is an error; the caller decides whether
// a human retries.
func (c *Client) Refund(ctx context.Context, refundRef, originalRef string, amountCents int64, reason string) error {
	params := map[string]string{
		ParamMerchantCode: c.cfg.MerchantCode,
		ParamTxnRef:       refundRef,
		"original_ref":    originalRef,
		ParamAmount:       strconv.FormatInt(amountCents, 10),
		ParamOrderInfo:    reason,
		ParamCreateDate:   c.clock().Format("20060102150405"),
	}
	params[SignatureParam] = Sign(params, c.cfg.Secret)

	var out refundResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(params).
		SetResult(&out).
		Post(c.cfg.Endpoint + "/refund")
	if err != nil {
		return fmt.Errorf("gateway refund call: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("gateway refund: http %d", resp.StatusCode())
	}
	if out.ResultCode != domain.ResultCodeSuccess {
		return fmt.Errorf("gateway refund declined: code=%s message=%s", out.ResultCode, out.Message)
	}
	return nil
}
