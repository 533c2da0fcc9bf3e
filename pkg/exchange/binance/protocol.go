package binance

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"resty.dev/v3"

	"nakula/pkg/core"
	"nakula/pkg/exchange"
	"nakula/pkg/market"
)

const (
	ProductionURL = "https://api.binance.com"
	SandboxURL    = "https://testnet.binance.vision"
)

// Request weights charged by Binance for the public spot endpoints.
const (
	weightExchangeInfo = 20
	weightTicker       = 2
	weightAllTickers   = 80
	weightKlines       = 2
	weightTrades       = 25
)

// quoteCurrencies are tried in order when a raw symbol is not in the loaded markets.
var quoteCurrencies = []string{"USDT", "FDUSD", "BUSD", "USDC", "TUSD", "BTC", "ETH", "BNB", "EUR", "TRY"}

// symbols translates between unified symbols ("BTC/USDT") and Binance
// market ids ("BTCUSDT"). Loaded markets take precedence over the suffix rules.
type symbols struct {
	toID      map[string]string
	toUnified map[string]string
}

func (s *symbols) id(symbol string) string {
	if id, ok := s.toID[symbol]; ok {
		return id
	}
	return formatSymbol(symbol)
}

func (s *symbols) unified(id string) string {
	if symbol, ok := s.toUnified[id]; ok {
		return symbol
	}
	return parseSymbol(id)
}

// symbolsFrom rebuilds the id mapping from the id and symbol fields of
// unified markets.
func symbolsFrom(markets market.Markets) *symbols {
	sym := &symbols{
		toID:      make(map[string]string, len(markets)),
		toUnified: make(map[string]string, len(markets)),
	}
	for unified, rec := range markets {
		id, _ := rec["id"].(string)
		if id == "" {
			continue
		}
		sym.toID[unified] = id
		sym.toUnified[id] = unified
	}
	return sym
}

func formatSymbol(symbol string) string {
	return strings.ReplaceAll(strings.ToUpper(symbol), "/", "")
}

func parseSymbol(binanceSymbol string) string {
	for _, quote := range quoteCurrencies {
		if base, ok := strings.CutSuffix(binanceSymbol, quote); ok && base != "" {
			return base + "/" + quote
		}
	}
	return binanceSymbol
}

// buildRequest describes the REST call serving op.
func buildRequest(op core.Operation, params core.Params, sym *symbols) (*core.Request, error) {
	switch op {
	case core.OpFetchMarkets:
		return core.NewRequest(http.MethodGet, "/api/v3/exchangeInfo").SetWeight(weightExchangeInfo), nil

	case core.OpFetchTicker:
		symbol, err := exchange.RequiredString(params, exchange.ParamSymbol)
		if err != nil {
			return nil, err
		}
		return core.NewRequest(http.MethodGet, "/api/v3/ticker/24hr").
			SetQuery("symbol", sym.id(symbol)).
			SetWeight(weightTicker), nil

	case core.OpFetchTickers:
		req := core.NewRequest(http.MethodGet, "/api/v3/ticker/24hr").SetWeight(weightAllTickers)
		if list, ok := params["symbols"].([]string); ok && len(list) > 0 {
			ids := make([]string, len(list))
			for i, s := range list {
				ids[i] = `"` + sym.id(s) + `"`
			}
			req.SetQuery("symbols", "["+strings.Join(ids, ",")+"]")
			req.SetWeight(tickersWeight(len(list)))
		}
		return req, nil

	case core.OpFetchOrderBook:
		symbol, err := exchange.RequiredString(params, exchange.ParamSymbol)
		if err != nil {
			return nil, err
		}
		limit := exchange.IntParam(params, exchange.ParamLimit, 100)
		return core.NewRequest(http.MethodGet, "/api/v3/depth").
			SetQuery("symbol", sym.id(symbol)).
			SetQuery("limit", strconv.Itoa(limit)).
			SetWeight(depthWeight(limit)), nil

	case core.OpFetchTrades:
		symbol, err := exchange.RequiredString(params, exchange.ParamSymbol)
		if err != nil {
			return nil, err
		}
		limit := exchange.IntParam(params, exchange.ParamLimit, 500)
		return core.NewRequest(http.MethodGet, "/api/v3/trades").
			SetQuery("symbol", sym.id(symbol)).
			SetQuery("limit", strconv.Itoa(limit)).
			SetWeight(weightTrades), nil

	case core.OpFetchOHLCV:
		symbol, err := exchange.RequiredString(params, exchange.ParamSymbol)
		if err != nil {
			return nil, err
		}
		interval, ok := exchange.StringParam(params, exchange.ParamTimeframe)
		if !ok {
			interval = "1m"
		}
		req := core.NewRequest(http.MethodGet, "/api/v3/klines").
			SetQuery("symbol", sym.id(symbol)).
			SetQuery("interval", interval).
			SetQuery("limit", strconv.Itoa(exchange.IntParam(params, exchange.ParamLimit, 500))).
			SetWeight(weightKlines)
		if ms, ok := exchange.TimeParam(params, exchange.ParamSince); ok {
			req.SetQuery("startTime", strconv.FormatInt(ms, 10))
		}
		if ms, ok := exchange.TimeParam(params, exchange.ParamUntil); ok {
			req.SetQuery("endTime", strconv.FormatInt(ms, 10))
		}
		return req, nil
	}
	return nil, exchange.Unsupported(Name, op)
}

func tickersWeight(n int) int {
	switch {
	case n <= 20:
		return 2
	case n <= 100:
		return 40
	}
	return weightAllTickers
}

func depthWeight(limit int) int {
	switch {
	case limit <= 100:
		return 5
	case limit <= 500:
		return 25
	case limit <= 1000:
		return 50
	}
	return 250
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// checkResponse turns a non-2xx response into a core.Error of type Exchange.
func checkResponse(op core.Operation, resp *resty.Response) error {
	if resp == nil {
		return fmt.Errorf("%s: nil response", op)
	}
	status := resp.StatusCode()
	if status < http.StatusBadRequest {
		return nil
	}

	var body apiError
	msg := resp.Status()
	if err := sonic.Unmarshal(resp.Bytes(), &body); err == nil && body.Code != 0 {
		msg = fmt.Sprintf("binance error %d: %s", body.Code, body.Msg)
	}
	return core.NewError(core.ErrorTypeExchange, fmt.Sprintf("%s: %s", op, msg)).
		WithCode(errorCode(status, body.Code)).
		WithKind(op.Kind())
}

// errorCode maps an HTTP status and Binance error code onto an error code.
func errorCode(status, code int) core.ErrorCode {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusTeapot, code == -1003, code == -1015:
		return core.ErrCodeRateLimit
	case code == -1121:
		return core.ErrCodeUnknownSymbol
	case code <= -1100 && code > -1200:
		return core.ErrCodeBadRequest
	case status >= http.StatusInternalServerError:
		return core.ErrCodeServerError
	}
	return core.ErrCodeBadRequest
}

// upstreamFailure reports whether a status signals an unhealthy venue rather
// than a bad request. Only these count against the circuit breaker.
func upstreamFailure(status int) bool {
	return status >= http.StatusInternalServerError || status == http.StatusTooManyRequests || status == http.StatusTeapot
}
