package bybit

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
	ProductionURL = "https://api.bybit.com"
	SandboxURL    = "https://api-testnet.bybit.com"
)

// Category selects the Bybit product line a client serves.
type Category string

const (
	CategorySpot   Category = "spot"
	CategoryLinear Category = "linear"
)

func (c Category) valid() bool {
	return c == CategorySpot || c == CategoryLinear
}

var quoteCurrencies = []string{"USDT", "USDC", "BTC", "ETH", "EUR"}

// intervals maps unified timeframes onto Bybit kline intervals.
var intervals = map[string]string{
	"1m": "1", "3m": "3", "5m": "5", "15m": "15", "30m": "30",
	"1h": "60", "2h": "120", "4h": "240", "6h": "360", "12h": "720",
	"1d": "D", "1w": "W", "1M": "M",
}

// symbols translates between unified symbols ("BTC/USDT", "BTC/USDT:USDT")
// and Bybit ids ("BTCUSDT").
type symbols struct {
	category  Category
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
	symbol := parseSymbol(id)
	if s.category == CategoryLinear {
		if _, quote, ok := strings.Cut(symbol, "/"); ok {
			symbol += ":" + quote
		}
	}
	return symbol
}

// symbolsFrom rebuilds the id mapping of category from the id and symbol
// fields of unified markets.
func symbolsFrom(category Category, markets market.Markets) *symbols {
	sym := &symbols{
		category:  category,
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
	pair, _, _ := strings.Cut(symbol, ":")
	return strings.ReplaceAll(strings.ToUpper(pair), "/", "")
}

func parseSymbol(id string) string {
	for _, quote := range quoteCurrencies {
		if base, ok := strings.CutSuffix(id, quote); ok && base != "" {
			return base + "/" + quote
		}
	}
	return id
}

// buildRequest describes the REST call serving op in category.
func buildRequest(category Category, op core.Operation, params core.Params, sym *symbols) (*core.Request, error) {
	cat := string(category)
	switch op {
	case core.OpFetchMarkets:
		return core.NewRequest(http.MethodGet, "/v5/market/instruments-info").
			SetQuery("category", cat).
			SetQuery("limit", "1000"), nil

	case core.OpFetchTicker:
		symbol, err := exchange.RequiredString(params, exchange.ParamSymbol)
		if err != nil {
			return nil, err
		}
		return core.NewRequest(http.MethodGet, "/v5/market/tickers").
			SetQuery("category", cat).
			SetQuery("symbol", sym.id(symbol)), nil

	case core.OpFetchTickers:
		return core.NewRequest(http.MethodGet, "/v5/market/tickers").SetQuery("category", cat), nil

	case core.OpFetchFundingRates:
		if category != CategoryLinear {
			return nil, exchange.Unsupported(Name, op)
		}
		req := core.NewRequest(http.MethodGet, "/v5/market/tickers").SetQuery("category", cat)
		if symbol, ok := exchange.StringParam(params, exchange.ParamSymbol); ok {
			req.SetQuery("symbol", sym.id(symbol))
		}
		return req, nil

	case core.OpFetchOrderBook:
		symbol, err := exchange.RequiredString(params, exchange.ParamSymbol)
		if err != nil {
			return nil, err
		}
		return core.NewRequest(http.MethodGet, "/v5/market/orderbook").
			SetQuery("category", cat).
			SetQuery("symbol", sym.id(symbol)).
			SetQuery("limit", strconv.Itoa(exchange.IntParam(params, exchange.ParamLimit, 50))), nil

	case core.OpFetchTrades:
		symbol, err := exchange.RequiredString(params, exchange.ParamSymbol)
		if err != nil {
			return nil, err
		}
		return core.NewRequest(http.MethodGet, "/v5/market/recent-trade").
			SetQuery("category", cat).
			SetQuery("symbol", sym.id(symbol)).
			SetQuery("limit", strconv.Itoa(exchange.IntParam(params, exchange.ParamLimit, 60))), nil

	case core.OpFetchOHLCV:
		symbol, err := exchange.RequiredString(params, exchange.ParamSymbol)
		if err != nil {
			return nil, err
		}
		timeframe, ok := exchange.StringParam(params, exchange.ParamTimeframe)
		if !ok {
			timeframe = "1m"
		}
		interval, ok := intervals[timeframe]
		if !ok {
			return nil, core.NewError(core.ErrorTypeInvalidConfig, fmt.Sprintf("bybit has no %q interval", timeframe)).
				WithCode(core.ErrCodeBadRequest).
				WithKind(op.Kind()).
				WithField(exchange.ParamTimeframe)
		}
		req := core.NewRequest(http.MethodGet, "/v5/market/kline").
			SetQuery("category", cat).
			SetQuery("symbol", sym.id(symbol)).
			SetQuery("interval", interval).
			SetQuery("limit", strconv.Itoa(exchange.IntParam(params, exchange.ParamLimit, 200)))
		if ms, ok := exchange.TimeParam(params, exchange.ParamSince); ok {
			req.SetQuery("start", strconv.FormatInt(ms, 10))
		}
		if ms, ok := exchange.TimeParam(params, exchange.ParamUntil); ok {
			req.SetQuery("end", strconv.FormatInt(ms, 10))
		}
		return req, nil
	}
	return nil, exchange.Unsupported(Name, op)
}

// envelope wraps every Bybit v5 response. Failures usually arrive with
// HTTP 200 and a non-zero retCode.
type envelope struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Time    int64  `json:"time"`
}

// checkResponse turns an HTTP error or a non-zero retCode into a core.Error
// of type Exchange and returns the decoded envelope otherwise.
func checkResponse(op core.Operation, resp *resty.Response) (*envelope, error) {
	if resp == nil {
		return nil, fmt.Errorf("%s: nil response", op)
	}
	status := resp.StatusCode()

	var env envelope
	decodeErr := sonic.Unmarshal(resp.Bytes(), &env)
	if status < http.StatusBadRequest && decodeErr == nil && env.RetCode == 0 {
		return &env, nil
	}
	if status < http.StatusBadRequest && decodeErr != nil {
		return nil, core.NewError(core.ErrorTypeMalformedResponse, fmt.Sprintf("decode %s response", op)).
			WithCode(core.ErrCodeMalformedResponse).
			WithKind(op.Kind()).
			Wrap(decodeErr)
	}

	msg := resp.Status()
	if decodeErr == nil && env.RetCode != 0 {
		msg = fmt.Sprintf("bybit error %d: %s", env.RetCode, env.RetMsg)
	}
	return nil, core.NewError(core.ErrorTypeExchange, fmt.Sprintf("%s: %s", op, msg)).
		WithCode(errorCode(status, env.RetCode, env.RetMsg)).
		WithKind(op.Kind())
}

// errorCode maps an HTTP status and Bybit retCode onto an error code.
func errorCode(status, code int, msg string) core.ErrorCode {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusForbidden, code == 10006, code == 10018:
		return core.ErrCodeRateLimit
	case code == 10001 && strings.Contains(strings.ToLower(msg), "symbol"):
		return core.ErrCodeUnknownSymbol
	case code == 10016, status >= http.StatusInternalServerError:
		return core.ErrCodeServerError
	}
	return core.ErrCodeBadRequest
}

// upstreamFailure reports whether err signals an unhealthy venue rather
// than a bad request. Only these count against the circuit breaker.
func upstreamFailure(err error) bool {
	return core.IsErrorCode(err, core.ErrCodeRateLimit) || core.IsErrorCode(err, core.ErrCodeServerError)
}
