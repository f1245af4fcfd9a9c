package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Wire parameter names shared with the gateway. The signature covers
// every non-empty parameter except SignatureParam itself.
const (
	ParamMerchantCode = "merchant_code"
	ParamTxnRef       = "txn_ref"
	ParamAmount       = "amount"
	ParamOrderInfo    = "order_info"
	ParamResultCode   = "result_code"
	ParamReturnURL    = "return_url"
	ParamNotifyURL    = "notify_url"
	ParamCreateDate   = "create_date"
	SignatureParam    = "signature"
)

// Sign computes the hex-encoded HMAC-SHA512 over the alphabetically
// sorted, URL-encoded parameter string. Empty values and the signature
// field are excluded; the gateway re-derives the same string on its
// side, so the encoding must match byte for byte.
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == SignatureParam || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}

	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature parameter against a recomputation over
// the remaining fields.
func Verify(params map[string]string, secret string) bool {
	got := params[SignatureParam]
	if got == "" {
		return false
	}
	want := Sign(params, secret)
	return hmac.Equal([]byte(strings.ToLower(got)), []byte(want))
}
