package exchange

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"

	"github.com/jAjiz/BoTC/logger"
	"github.com/jAjiz/BoTC/types"
)

const (
	krakenBaseURL = "https://api.kraken.com"

	// atrInterval is the OHLC granularity of the ATR query, in minutes.
	atrInterval = 15
	// atrPeriod is the Wilder smoothing period.
	atrPeriod = 14
)

// Kraken implements the Exchange port against the Kraken spot REST API.
type Kraken struct {
	key     string
	secret  []byte
	baseURL string
	client  *retryablehttp.Client
	log     logger.Logger

	atrDays int

	mu        sync.Mutex
	lastNonce int64
	pairs     map[string]types.PairInfo // logical id -> wire names
}

// NewKraken builds a client with a bounded-retry HTTP transport.
// The API secret is Kraken's base64-encoded signing key.
func NewKraken(key, secret string, atrDays int, log logger.Logger) (*Kraken, error) {
	sec, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("decode api secret: %w", err)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = 15 * time.Second
	rc.Logger = nil

	return &Kraken{
		key:     key,
		secret:  sec,
		baseURL: krakenBaseURL,
		client:  rc,
		log:     log,
		atrDays: atrDays,
		pairs:   make(map[string]types.PairInfo),
	}, nil
}

// krakenResponse is the common REST envelope.
type krakenResponse struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

func (k *Kraken) get(path string, query url.Values) (json.RawMessage, error) {
	u := k.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := retryablehttp.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return k.do(req)
}

// post signs and submits a private API call.
func (k *Kraken) post(path string, form url.Values) (json.RawMessage, error) {
	if form == nil {
		form = url.Values{}
	}
	nonce := k.nextNonce()
	form.Set("nonce", strconv.FormatInt(nonce, 10))
	body := form.Encode()

	req, err := retryablehttp.NewRequest(http.MethodPost, k.baseURL+path, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("API-Key", k.key)
	req.Header.Set("API-Sign", k.sign(path, strconv.FormatInt(nonce, 10), body))
	return k.do(req)
}

func (k *Kraken) do(req *retryablehttp.Request) (json.RawMessage, error) {
	resp, err := k.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d %s %s", resp.StatusCode, resp.Status, string(raw))
	}
	var env krakenResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(env.Error) > 0 {
		return nil, fmt.Errorf("kraken: %s", strings.Join(env.Error, ", "))
	}
	return env.Result, nil
}

// sign computes API-Sign: HMAC-SHA512(path + SHA256(nonce + postdata), secret).
func (k *Kraken) sign(path, nonce, body string) string {
	sha := sha256.Sum256([]byte(nonce + body))
	mac := hmac.New(sha512.New, k.secret)
	mac.Write([]byte(path))
	mac.Write(sha[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// nextNonce returns a strictly increasing nonce even under concurrent calls.
func (k *Kraken) nextNonce() int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	n := time.Now().UnixNano()
	if n <= k.lastNonce {
		n = k.lastNonce + 1
	}
	k.lastNonce = n
	return n
}

// BuildPairsMap resolves the configured logical pair ids against Kraken
// AssetPairs into their wire aliases. Pairs that do not resolve are dropped
// with a warning; the returned map is what the daemon trades.
func (k *Kraken) BuildPairsMap(pairs []string) (map[string]types.PairInfo, error) {
	q := url.Values{"pair": {strings.Join(pairs, ",")}}
	result, err := k.get("/0/public/AssetPairs", q)
	if err != nil {
		return nil, fmt.Errorf("asset pairs: %w", err)
	}

	var raw map[string]struct {
		Altname string `json:"altname"`
		WSName  string `json:"wsname"`
		Base    string `json:"base"`
		Quote   string `json:"quote"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("decode asset pairs: %w", err)
	}

	resolved := make(map[string]types.PairInfo, len(pairs))
	for primary, info := range raw {
		resolved[info.Altname] = types.PairInfo{
			ID:      info.Altname,
			Primary: primary,
			WSName:  info.WSName,
			Base:    info.Base,
			Quote:   info.Quote,
		}
	}

	out := make(map[string]types.PairInfo, len(pairs))
	for _, id := range pairs {
		info, ok := resolved[id]
		if !ok {
			k.log.Warn("pair not found on exchange", logger.String("pair", id))
			continue
		}
		out[id] = info
	}

	k.mu.Lock()
	k.pairs = out
	k.mu.Unlock()
	return out, nil
}

func (k *Kraken) pairInfo(pair string) (types.PairInfo, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	info, ok := k.pairs[pair]
	return info, ok
}

// Balance returns the account balance keyed by asset ledger code.
func (k *Kraken) Balance() (map[string]decimal.Decimal, error) {
	result, err := k.post("/0/private/Balance", nil)
	if err != nil {
		return nil, err
	}
	var raw map[string]string
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}
	out := make(map[string]decimal.Decimal, len(raw))
	for asset, qty := range raw {
		d, err := decimal.NewFromString(qty)
		if err != nil {
			return nil, fmt.Errorf("balance %s: %w", asset, err)
		}
		out[asset] = d
	}
	return out, nil
}

// LastPrice returns the last traded price for a primary symbol.
func (k *Kraken) LastPrice(primary string) (decimal.Decimal, error) {
	result, err := k.get("/0/public/Ticker", url.Values{"pair": {primary}})
	if err != nil {
		return decimal.Zero, err
	}
	var raw map[string]struct {
		C []string `json:"c"` // [last trade price, lot volume]
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return decimal.Zero, fmt.Errorf("decode ticker: %w", err)
	}
	tick, ok := raw[primary]
	if !ok || len(tick.C) == 0 {
		return decimal.Zero, fmt.Errorf("ticker: no data for %s", primary)
	}
	return decimal.NewFromString(tick.C[0])
}

// CurrentATR fetches 15m OHLC candles over the configured window and
// returns the Wilder-smoothed Average True Range in quote units.
func (k *Kraken) CurrentATR(pair string) (decimal.Decimal, error) {
	since := time.Now().Add(-time.Duration(k.atrDays) * 24 * time.Hour).Unix()
	q := url.Values{
		"pair":     {pair},
		"interval": {strconv.Itoa(atrInterval)},
		"since":    {strconv.FormatInt(since, 10)},
	}
	result, err := k.get("/0/public/OHLC", q)
	if err != nil {
		return decimal.Zero, err
	}

	// Result is keyed by the pair name plus a "last" cursor; candle rows are
	// [time, open, high, low, close, vwap, volume, count].
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(result, &raw); err != nil {
		return decimal.Zero, fmt.Errorf("decode ohlc: %w", err)
	}
	var rows [][]any
	for key, msg := range raw {
		if key == "last" {
			continue
		}
		d := json.NewDecoder(bytes.NewReader(msg))
		d.UseNumber()
		if err := d.Decode(&rows); err != nil {
			return decimal.Zero, fmt.Errorf("decode ohlc rows: %w", err)
		}
		break
	}
	candles, err := parseCandles(rows)
	if err != nil {
		return decimal.Zero, err
	}
	return averageTrueRange(candles, atrPeriod)
}

type candle struct {
	high, low, close decimal.Decimal
}

func parseCandles(rows [][]any) ([]candle, error) {
	candles := make([]candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			return nil, fmt.Errorf("ohlc row too short: %v", row)
		}
		high, err := cellDecimal(row[2])
		if err != nil {
			return nil, err
		}
		low, err := cellDecimal(row[3])
		if err != nil {
			return nil, err
		}
		cls, err := cellDecimal(row[4])
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle{high: high, low: low, close: cls})
	}
	return candles, nil
}

// cellDecimal converts one OHLC cell; Kraken mixes numeric timestamps with
// string-encoded prices in the same row.
func cellDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case string:
		return decimal.NewFromString(x)
	case json.Number:
		return decimal.NewFromString(x.String())
	default:
		return decimal.Zero, fmt.Errorf("unexpected ohlc cell %T", v)
	}
}

// averageTrueRange computes the Wilder ATR over the candle series.
func averageTrueRange(candles []candle, period int) (decimal.Decimal, error) {
	if len(candles) < period+1 {
		return decimal.Zero, fmt.Errorf("atr: need at least %d candles, got %d", period+1, len(candles))
	}
	n := decimal.NewFromInt(int64(period))
	nMinus1 := decimal.NewFromInt(int64(period - 1))

	trueRange := func(c candle, prevClose decimal.Decimal) decimal.Decimal {
		tr := c.high.Sub(c.low)
		if hc := c.high.Sub(prevClose).Abs(); hc.GreaterThan(tr) {
			tr = hc
		}
		if lc := c.low.Sub(prevClose).Abs(); lc.GreaterThan(tr) {
			tr = lc
		}
		return tr
	}

	// Seed with the simple mean of the first `period` true ranges, then
	// apply Wilder smoothing over the rest.
	sum := decimal.Zero
	for i := 1; i <= period; i++ {
		sum = sum.Add(trueRange(candles[i], candles[i-1].close))
	}
	atr := sum.Div(n)
	for i := period + 1; i < len(candles); i++ {
		tr := trueRange(candles[i], candles[i-1].close)
		atr = atr.Mul(nMinus1).Add(tr).Div(n)
	}
	return atr, nil
}

// closedOrderRaw is one entry of the Kraken ClosedOrders response.
type closedOrderRaw struct {
	Status  string      `json:"status"`
	CloseTm json.Number `json:"closetm"`
	Price   string      `json:"price"`
	VolExec string      `json:"vol_exec"`
	Cost    string      `json:"cost"`
	Descr   struct {
		Pair string `json:"pair"`
		Type string `json:"type"`
	} `json:"descr"`
}

// ClosedOrdersBetween pages through ClosedOrders starting at `start` and
// keeps fills that are fully closed no earlier than `closedAfter`.
func (k *Kraken) ClosedOrdersBetween(start, closedAfter int64) (map[string]types.Fill, error) {
	out := make(map[string]types.Fill)
	offset := 0
	for {
		form := url.Values{
			"start": {strconv.FormatInt(start, 10)},
			"ofs":   {strconv.Itoa(offset)},
		}
		result, err := k.post("/0/private/ClosedOrders", form)
		if err != nil {
			return nil, err
		}
		var page struct {
			Closed map[string]closedOrderRaw `json:"closed"`
			Count  int                       `json:"count"`
		}
		if err := json.Unmarshal(result, &page); err != nil {
			return nil, fmt.Errorf("decode closed orders: %w", err)
		}

		for id, o := range page.Closed {
			if o.Status != "closed" {
				continue
			}
			closeTm, _ := o.CloseTm.Float64()
			if int64(closeTm) < closedAfter {
				continue
			}
			fill, err := parseFill(id, o, int64(closeTm))
			if err != nil {
				k.log.Warn("skipping unparseable fill", logger.String("id", id), logger.Err(err))
				continue
			}
			out[id] = fill
		}

		offset += len(page.Closed)
		if len(page.Closed) == 0 || offset >= page.Count {
			return out, nil
		}
	}
}

func parseFill(id string, o closedOrderRaw, closeTm int64) (types.Fill, error) {
	price, err := decimal.NewFromString(o.Price)
	if err != nil {
		return types.Fill{}, fmt.Errorf("price: %w", err)
	}
	vol, err := decimal.NewFromString(o.VolExec)
	if err != nil {
		return types.Fill{}, fmt.Errorf("vol_exec: %w", err)
	}
	cost, err := decimal.NewFromString(o.Cost)
	if err != nil {
		return types.Fill{}, fmt.Errorf("cost: %w", err)
	}
	return types.Fill{
		ID:        id,
		Pair:      o.Descr.Pair,
		Side:      types.Side(o.Descr.Type),
		Price:     price,
		Volume:    vol,
		Cost:      cost,
		Status:    o.Status,
		CloseTime: closeTm,
	}, nil
}

// PlaceLimit submits a limit order at the given price and returns the new
// order id. Price and volume are rounded to the fixed types.PriceScale and
// types.VolumeScale here, at the submission boundary; the scales are the
// same for every pair.
func (k *Kraken) PlaceLimit(pair string, side types.Side, price, volume decimal.Decimal) (string, error) {
	info, ok := k.pairInfo(pair)
	if !ok {
		return "", fmt.Errorf("unknown pair %q", pair)
	}
	form := url.Values{
		"pair":      {info.Primary},
		"type":      {string(side)},
		"ordertype": {"limit"},
		"price":     {price.Round(types.PriceScale).String()},
		"volume":    {volume.Round(types.VolumeScale).String()},
	}
	result, err := k.post("/0/private/AddOrder", form)
	if err != nil {
		return "", err
	}
	var resp struct {
		TxID []string `json:"txid"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return "", fmt.Errorf("decode add order: %w", err)
	}
	if len(resp.TxID) == 0 {
		return "", fmt.Errorf("add order: no txid returned")
	}
	k.log.Info("limit order placed",
		logger.String("pair", pair),
		logger.String("side", string(side)),
		logger.String("price", price.Round(types.PriceScale).String()),
		logger.String("volume", volume.Round(types.VolumeScale).String()),
		logger.String("order", resp.TxID[0]),
	)
	return resp.TxID[0], nil
}

// CancelOrder cancels an open order by transaction id.
func (k *Kraken) CancelOrder(orderID string) error {
	_, err := k.post("/0/private/CancelOrder", url.Values{"txid": {orderID}})
	if err != nil {
		return err
	}
	k.log.Info("order cancelled", logger.String("order", orderID))
	return nil
}
