package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"wednesday-alerts/internal/retry"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func serve(t *testing.T, status int, body string, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBinancePrice(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"symbol":"BTCUSDT","price":"64321.55000000"}`, func(r *http.Request) {
		if r.URL.Path != "/api/v3/ticker/price" {
			t.Errorf("路径不正确: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("symbol 参数不正确: %s", got)
		}
	})

	b := NewBinance(Options{BaseURL: srv.URL}, noopLogger())
	price, err := b.Price(context.Background(), "btc")
	if err != nil {
		t.Fatalf("Price 应成功: %v", err)
	}
	if price != 64321.55 {
		t.Fatalf("价格解析错误: %v", price)
	}
}

func TestBinanceUpstreamErrorIsTerminal(t *testing.T) {
	srv := serve(t, http.StatusBadRequest, `{"code":-1121,"msg":"Invalid symbol."}`, nil)

	b := NewBinance(Options{BaseURL: srv.URL}, noopLogger())
	_, err := b.Price(context.Background(), "NOPE")
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("应返回 UpstreamError, 实际 %T %v", err, err)
	}
	if upstream.Code != -1121 || upstream.Message != "Invalid symbol." {
		t.Fatalf("错误内容不正确: %+v", upstream)
	}
	if !retry.IsPermanent(err) {
		t.Fatal("400 的上游错误不应重试")
	}
}

func TestBinanceThrottlingIsTransient(t *testing.T) {
	srv := serve(t, http.StatusTooManyRequests, `{"code":-1003,"msg":"Too many requests."}`, nil)

	b := NewBinance(Options{BaseURL: srv.URL}, noopLogger())
	_, err := b.Price(context.Background(), "BTC")
	if err == nil {
		t.Fatal("429 应报错")
	}
	if retry.IsPermanent(err) {
		t.Fatal("429 应可重试")
	}
}

func TestMissingFieldIsTerminal(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"symbol":"BTCUSDT"}`, nil)

	b := NewBinance(Options{BaseURL: srv.URL}, noopLogger())
	_, err := b.Price(context.Background(), "BTC")
	var fieldErr *FieldError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("应返回 FieldError, 实际 %T %v", err, err)
	}
	if fieldErr.Field != "price" {
		t.Fatalf("字段名不正确: %s", fieldErr.Field)
	}
	if !strings.Contains(fieldErr.Payload, "BTCUSDT") {
		t.Fatalf("错误应携带原始响应: %q", fieldErr.Payload)
	}
	if !retry.IsPermanent(err) {
		t.Fatal("字段缺失不应重试")
	}
}

func TestNonObjectPayloadIsTerminal(t *testing.T) {
	srv := serve(t, http.StatusOK, `[1,2,3]`, nil)

	b := NewBinance(Options{BaseURL: srv.URL}, noopLogger())
	_, err := b.Price(context.Background(), "BTC")
	var fieldErr *FieldError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("非对象响应应返回 FieldError, 实际 %T %v", err, err)
	}
}

func TestServerErrorWithoutPayloadIsTransient(t *testing.T) {
	srv := serve(t, http.StatusBadGateway, `<html>bad gateway</html>`, nil)

	b := NewBinance(Options{BaseURL: srv.URL}, noopLogger())
	_, err := b.Price(context.Background(), "BTC")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("应返回 StatusError, 实际 %T %v", err, err)
	}
	if statusErr.Status != http.StatusBadGateway {
		t.Fatalf("状态码不正确: %d", statusErr.Status)
	}
	if retry.IsPermanent(err) {
		t.Fatal("502 应可重试")
	}
}

func TestTransportErrorIsTransient(t *testing.T) {
	srv := serve(t, http.StatusOK, `{}`, nil)
	srv.Close()

	b := NewBinance(Options{BaseURL: srv.URL}, noopLogger())
	_, err := b.Price(context.Background(), "BTC")
	if err == nil {
		t.Fatal("连接失败应报错")
	}
	if retry.IsPermanent(err) {
		t.Fatal("网络错误应可重试")
	}
}

func TestCoinGeckoPriceWithChange(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"bitcoin":{"usd":101234.5,"usd_24h_change":-2.75}}`, func(r *http.Request) {
		q := r.URL.Query()
		if q.Get("ids") != "bitcoin" || q.Get("vs_currencies") != "usd" {
			t.Errorf("查询参数不正确: %s", r.URL.RawQuery)
		}
		if q.Get("include_24hr_change") != "true" {
			t.Errorf("应请求 24h 涨跌幅: %s", r.URL.RawQuery)
		}
	})

	cg := NewCoinGecko(Options{BaseURL: srv.URL}, noopLogger())
	price, change, err := cg.PriceWithChange(context.Background(), "bitcoin")
	if err != nil {
		t.Fatalf("PriceWithChange 应成功: %v", err)
	}
	if price != 101234.5 || change != -2.75 {
		t.Fatalf("解析结果不正确: %v %v", price, change)
	}
}

func TestCoinGeckoUnknownIDIsTerminal(t *testing.T) {
	srv := serve(t, http.StatusOK, `{}`, nil)

	cg := NewCoinGecko(Options{BaseURL: srv.URL}, noopLogger())
	_, err := cg.Price(context.Background(), "zeroswap")
	var fieldErr *FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "zeroswap.usd" {
		t.Fatalf("应返回 zeroswap.usd 字段错误, 实际 %v", err)
	}
}

func TestCoinGeckoStatusPayload(t *testing.T) {
	srv := serve(t, http.StatusTooManyRequests, `{"status":{"error_code":429,"error_message":"You've exceeded the Rate Limit."}}`, nil)

	cg := NewCoinGecko(Options{BaseURL: srv.URL}, noopLogger())
	_, err := cg.Price(context.Background(), "bitcoin")
	var upstream *UpstreamError
	if !errors.As(err, &upstream) || upstream.Code != 429 {
		t.Fatalf("应识别 status 错误结构, 实际 %v", err)
	}
	if retry.IsPermanent(err) {
		t.Fatal("限流应可重试")
	}
}

func TestCoinMarketCapDominance(t *testing.T) {
	body := `{"status":{"error_code":0,"error_message":null},"data":{"btc_dominance":54.12,"eth_dominance":"17.3"}}`
	srv := serve(t, http.StatusOK, body, func(r *http.Request) {
		if r.Header.Get("X-CMC_PRO_API_KEY") != "secret" {
			t.Errorf("缺少 API key 头")
		}
	})

	cmc := NewCoinMarketCap(Options{BaseURL: srv.URL, APIKey: "secret"}, noopLogger())
	btc, eth, err := cmc.Dominance(context.Background())
	if err != nil {
		t.Fatalf("Dominance 应成功: %v", err)
	}
	if btc != 54.12 || eth != 17.3 {
		t.Fatalf("解析结果不正确: %v %v", btc, eth)
	}
}

func TestCoinMarketCapWithoutKey(t *testing.T) {
	cmc := NewCoinMarketCap(Options{BaseURL: "http://127.0.0.1:1"}, noopLogger())
	_, _, err := cmc.Dominance(context.Background())
	if !IsMissingAPIKey(err) {
		t.Fatalf("未配置 key 应报错, 实际 %v", err)
	}
	if !retry.IsPermanent(err) {
		t.Fatal("缺少 key 不应重试")
	}
}

func TestBindFixesID(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"price":"3.5"}`, func(r *http.Request) {
		if r.URL.Query().Get("symbol") != "ETHUSDT" {
			t.Errorf("symbol 参数不正确: %s", r.URL.RawQuery)
		}
	})

	fn := Bind(NewBinance(Options{BaseURL: srv.URL}, noopLogger()), "ETH")
	price, err := fn(context.Background())
	if err != nil || price != 3.5 {
		t.Fatalf("Bind 结果不正确: %v %v", price, err)
	}
}
