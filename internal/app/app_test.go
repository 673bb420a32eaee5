package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wednesday-alerts/internal/config"
	"wednesday-alerts/internal/fetcher"
	"wednesday-alerts/internal/storage"
)

func testApp() *App {
	cfg := &config.Config{
		Fetch: config.FetchConfig{Attempts: 1},
		Assets: []config.AssetConfig{
			{Symbol: "BTC", Step: 1000, Provider: "binance", ProviderID: "BTC", Schedule: "@every 1m"},
			{Symbol: "zee", Step: 0.001, Provider: "coingecko", ProviderID: "zeroswap", Schedule: "@every 2m"},
		},
		Export: config.ExportConfig{MaxDataPoints: 100},
	}
	return NewApp(cfg, zerolog.Nop())
}

func sampleAlerts() []storage.TrendAlert {
	base := time.Date(2024, 3, 6, 9, 0, 0, 0, time.UTC)
	return []storage.TrendAlert{
		{Symbol: "BTC", Rate: decimal.RequireFromString("64000"), Grew: true, Recipients: 3, CreatedAt: base},
		{Symbol: "ETH", Rate: decimal.RequireFromString("3100"), Grew: false, Recipients: 2, CreatedAt: base.Add(time.Minute)},
		{Symbol: "BTC", Rate: decimal.RequireFromString("65000"), Grew: true, Recipients: 3, CreatedAt: base.Add(2 * time.Minute)},
	}
}

func TestSimulatePrintsDecisions(t *testing.T) {
	a := testApp()
	var out bytes.Buffer
	err := a.simulate(context.Background(), &out, SimulateOptions{Symbol: "btc", Prices: []float64{50500, 50900, 51200, 52100}})
	if err != nil {
		t.Fatalf("模拟失败: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("期望 5 行输出，实际 %d:\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[0], "seeded") || !strings.Contains(lines[1], "unchanged") {
		t.Fatalf("前两步结果不符:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "notify: BTC rate now is 52100$ 📈") {
		t.Fatalf("第三次跨档应触发通知:\n%s", out.String())
	}
}

func TestSimulateRequiresKnownStep(t *testing.T) {
	a := testApp()
	err := a.simulate(context.Background(), &bytes.Buffer{}, SimulateOptions{Symbol: "DOGE", Prices: []float64{1}})
	if err == nil {
		t.Fatal("未配置的资产且未提供 step 应报错")
	}
	if err := a.simulate(context.Background(), &bytes.Buffer{}, SimulateOptions{Symbol: "DOGE", Step: 0.1, Prices: []float64{1}}); err != nil {
		t.Fatalf("显式 step 应可用: %v", err)
	}
}

func TestBuildAssetsBindsProviders(t *testing.T) {
	a := testApp()
	assets, err := a.buildAssets(fetcher.NewCoinGecko(fetcher.Options{}, zerolog.Nop()))
	if err != nil {
		t.Fatalf("构建资产失败: %v", err)
	}
	if len(assets) != 2 || assets[1].Symbol != "ZEE" || assets[1].Fetch == nil {
		t.Fatalf("资产不符: %+v", assets)
	}
	if got := assets[1].Key(); got != "ZEE_LAST_RATE" {
		t.Fatalf("历史键不符: %s", got)
	}
	if sched := a.assetSchedules(); sched["ZEE"] != "@every 2m" {
		t.Fatalf("调度不符: %v", sched)
	}

	a.Config.Assets[0].Provider = "kraken"
	if _, err := a.buildAssets(nil); err == nil {
		t.Fatal("未知 provider 应报错")
	}
}

func TestDownsampleAlertsKeepsEnds(t *testing.T) {
	alerts := sampleAlerts()
	got := downsampleAlerts(alerts, 2)
	if len(got) != 2 || !got[0].CreatedAt.Equal(alerts[0].CreatedAt) || !got[1].CreatedAt.Equal(alerts[2].CreatedAt) {
		t.Fatalf("降采样结果不符: %+v", got)
	}
	if len(downsampleAlerts(alerts, 10)) != 3 {
		t.Fatal("不足上限时应原样返回")
	}
}

func TestFilterSymbol(t *testing.T) {
	got := filterSymbol(sampleAlerts(), "btc")
	if len(got) != 2 {
		t.Fatalf("期望 2 条 BTC 记录，实际 %d", len(got))
	}
}

func TestWriteAlertsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "alerts.csv")
	if err := writeAlertsCSV(path, sampleAlerts()); err != nil {
		t.Fatalf("写入 CSV 失败: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 4 {
		t.Fatalf("期望 4 行，实际 %d", len(records))
	}
	if strings.Join(records[2], ",") != "2024-03-06T09:01:00Z,ETH,3100,down,2" {
		t.Fatalf("CSV 行不符: %v", records[2])
	}
}

func TestWriteAlertsPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.png")
	if err := writeAlertsPNG(path, sampleAlerts()); err != nil {
		t.Fatalf("渲染 PNG 失败: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		t.Fatalf("PNG 文件为空: %v", err)
	}
}

func TestWriteTables(t *testing.T) {
	ctx := context.Background()
	st, err := storage.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("打开 sqlite 失败: %v", err)
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	_ = st.AddChat(ctx, storage.Digest, 42)
	_ = st.AddChat(ctx, storage.Crypto, -100)
	_ = st.SetDisplayName(ctx, 42, "toadfan")

	var out bytes.Buffer
	if err := writeChatTable(ctx, &out, st, storage.Subscriptions); err != nil {
		t.Fatalf("输出 chats 失败: %v", err)
	}
	if !strings.Contains(out.String(), "toadfan") || !strings.Contains(out.String(), "-100") {
		t.Fatalf("chats 表格不符:\n%s", out.String())
	}

	out.Reset()
	if err := writeAlertTable(&out, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "no trend alerts") {
		t.Fatalf("空列表提示不符: %s", out.String())
	}
	out.Reset()
	if err := writeAlertTable(&out, sampleAlerts()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "65000") || !strings.Contains(out.String(), "down") {
		t.Fatalf("告警表格不符:\n%s", out.String())
	}
}

func TestOpenStoreRequiresDSN(t *testing.T) {
	a := testApp()
	if _, err := a.openStore(context.Background()); err == nil {
		t.Fatal("缺少 dsn 应报错")
	}
}

func TestShowPrunesOldAlerts(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "alerts.db")

	st, err := storage.OpenSQLite(path)
	if err != nil {
		t.Fatalf("打开 sqlite 失败: %v", err)
	}
	if err := st.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	for _, alert := range sampleAlerts() {
		if _, err := st.InsertTrendAlert(ctx, alert); err != nil {
			t.Fatal(err)
		}
	}
	st.Close()

	a := testApp()
	a.Config.Database = config.DatabaseConfig{Driver: "sqlite", DSN: path, AutoMigrate: true}

	past := time.Now().Add(-time.Hour)
	var out bytes.Buffer
	if err := a.show(ctx, &out, ShowOptions{Limit: 10, PruneBefore: &past}); err != nil {
		t.Fatalf("show 失败: %v", err)
	}
	if strings.Count(out.String(), "BTC") != 2 {
		t.Fatalf("早于截止时间的记录不应存在，新记录应保留:\n%s", out.String())
	}

	future := time.Now().Add(time.Hour)
	out.Reset()
	if err := a.show(ctx, &out, ShowOptions{Limit: 10, PruneBefore: &future}); err != nil {
		t.Fatalf("show 失败: %v", err)
	}
	if !strings.Contains(out.String(), "no trend alerts") {
		t.Fatalf("截止时间之前的记录应被清理:\n%s", out.String())
	}
}
