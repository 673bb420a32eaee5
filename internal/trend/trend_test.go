package trend

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"wednesday-alerts/internal/cache"
	"wednesday-alerts/internal/retry"
)

type sentAlert struct {
	symbol string
	rate   float64
	grew   bool
}

type recordingNotifier struct {
	alerts []sentAlert
	err    error
}

func (n *recordingNotifier) NotifyTrend(_ context.Context, asset Asset, rate float64, grew bool) error {
	n.alerts = append(n.alerts, sentAlert{symbol: asset.Symbol, rate: rate, grew: grew})
	return n.err
}

// feed returns an asset whose price source replays prices in order.
func feed(symbol string, step float64, prices ...float64) *Asset {
	i := 0
	return &Asset{
		Symbol: symbol,
		Step:   step,
		Fetch: func(context.Context) (float64, error) {
			p := prices[i]
			i++
			return p, nil
		},
	}
}

func newTestDetector(store cache.Store, n Notifier) *Detector {
	return NewDetector(store, n, retry.Policy{Attempts: 3}, zerolog.Nop())
}

func run(t *testing.T, d *Detector, asset *Asset, n int) []Decision {
	t.Helper()
	out := make([]Decision, 0, n)
	for i := 0; i < n; i++ {
		dec, err := d.Check(context.Background(), *asset)
		if err != nil {
			t.Fatalf("第 %d 次检查失败: %v", i+1, err)
		}
		out = append(out, dec)
	}
	return out
}

func TestColdStartNeverNotifies(t *testing.T) {
	store := cache.NewMemory()
	n := &recordingNotifier{}
	d := newTestDetector(store, n)

	dec := run(t, d, feed("BTC", 1000, 50000), 1)[0]
	if dec.Outcome != Seeded {
		t.Fatalf("首次应为 seeded, 实际 %s", dec.Outcome)
	}
	if len(n.alerts) != 0 {
		t.Fatal("冷启动不应发送通知")
	}
	hist, _ := store.History(context.Background(), "BTC_LAST_RATE")
	if len(hist) != 1 || hist[0] != (cache.Observation{Rate: 50000, Grew: true}) {
		t.Fatalf("种子记录不正确: %+v", hist)
	}
}

func TestSameBucketIsNoop(t *testing.T) {
	store := cache.NewMemory()
	n := &recordingNotifier{}
	d := newTestDetector(store, n)

	decs := run(t, d, feed("BTC", 1000, 50000, 50999, 50000.5, 50500), 4)
	for _, dec := range decs[1:] {
		if dec.Outcome != Unchanged {
			t.Fatalf("同一区间应为 unchanged, 实际 %s", dec.Outcome)
		}
	}
	hist, _ := store.History(context.Background(), "BTC_LAST_RATE")
	if len(hist) != 1 {
		t.Fatalf("同一区间不应写入历史, 实际 %d 条", len(hist))
	}
	if len(n.alerts) != 0 {
		t.Fatal("同一区间不应通知")
	}
}

func TestTwoConsecutiveCrossingsNotifyOnce(t *testing.T) {
	store := cache.NewMemory()
	n := &recordingNotifier{}
	d := newTestDetector(store, n)

	// 50000 seeds, 50999 stays, 51200 crosses up (len 2), 52100 confirms (len 3).
	decs := run(t, d, feed("BTC", 1000, 50000, 50999, 51200, 52100), 4)
	want := []Outcome{Seeded, Unchanged, Recorded, Notified}
	for i, w := range want {
		if decs[i].Outcome != w {
			t.Fatalf("第 %d 步应为 %s, 实际 %s", i+1, w, decs[i].Outcome)
		}
	}
	if len(n.alerts) != 1 {
		t.Fatalf("应恰好通知一次, 实际 %d", len(n.alerts))
	}
	if got := n.alerts[0]; got.symbol != "BTC" || got.rate != 52100 || !got.grew {
		t.Fatalf("通知内容不正确: %+v", got)
	}
}

func TestDownwardConfirmation(t *testing.T) {
	store := cache.NewMemory()
	n := &recordingNotifier{}
	d := newTestDetector(store, n)

	decs := run(t, d, feed("ETH", 100, 3000, 2950, 2840), 3)
	if decs[1].Outcome != Recorded || decs[1].Grew {
		t.Fatalf("第一次下穿应记录为下跌: %+v", decs[1])
	}
	if decs[2].Outcome != Notified || decs[2].Grew {
		t.Fatalf("第二次下穿应通知下跌: %+v", decs[2])
	}
	if len(n.alerts) != 1 || n.alerts[0].grew {
		t.Fatalf("应通知一次下跌: %+v", n.alerts)
	}
}

func TestDirectionFlipResetsStreak(t *testing.T) {
	store := cache.NewMemory()
	n := &recordingNotifier{}
	d := newTestDetector(store, n)

	// Up, up (notify), then down with a full window must stay silent.
	decs := run(t, d, feed("BTC", 1000, 50000, 51200, 52100, 50800), 4)
	if decs[3].Outcome != Recorded || decs[3].Grew {
		t.Fatalf("方向反转应只记录: %+v", decs[3])
	}
	hist, _ := store.History(context.Background(), "BTC_LAST_RATE")
	if len(hist) != cache.MaxHistory {
		t.Fatalf("窗口应已满, 实际 %d", len(hist))
	}
	if len(n.alerts) != 1 {
		t.Fatalf("反转当次不应通知, 共通知 %d 次", len(n.alerts))
	}

	// A second down crossing confirms the new direction.
	dec, err := d.Check(context.Background(), *feed("BTC", 1000, 49100))
	if err != nil {
		t.Fatal(err)
	}
	if dec.Outcome != Notified || dec.Grew {
		t.Fatalf("第二次下穿应通知: %+v", dec)
	}
}

func TestHistoryNeverExceedsThree(t *testing.T) {
	store := cache.NewMemory()
	d := newTestDetector(store, &recordingNotifier{})

	prices := []float64{1000, 2000, 3000, 4000, 5000, 4000, 3000, 2000}
	run(t, d, feed("BTC", 1000, prices...), len(prices))

	hist, _ := store.History(context.Background(), "BTC_LAST_RATE")
	if len(hist) != cache.MaxHistory {
		t.Fatalf("历史长度应为 3, 实际 %d", len(hist))
	}
	if hist[0].Rate != 2000 || hist[1].Rate != 3000 || hist[2].Rate != 4000 {
		t.Fatalf("历史应按新到旧排列: %+v", hist)
	}
}

func TestSmallStepBuckets(t *testing.T) {
	if got := Bucket(0.003, 0.001); got != 3 {
		t.Fatalf("0.003/0.001 应为 3, 实际 %d", got)
	}
	if got := Bucket(0.0029, 0.001); got != 2 {
		t.Fatalf("0.0029/0.001 应为 2, 实际 %d", got)
	}
	if got := Bucket(50999.99, 1000); got != 50 {
		t.Fatalf("50999.99/1000 应为 50, 实际 %d", got)
	}
}

func TestFetchIsRetried(t *testing.T) {
	store := cache.NewMemory()
	d := newTestDetector(store, &recordingNotifier{})

	calls := 0
	asset := Asset{Symbol: "ZEE", Step: 0.001, Fetch: func(context.Context) (float64, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("connection reset by peer")
		}
		return 0.042, nil
	}}
	dec, err := d.Check(context.Background(), asset)
	if err != nil {
		t.Fatalf("重试后应成功: %v", err)
	}
	if calls != 3 || dec.Outcome != Seeded {
		t.Fatalf("calls=%d outcome=%s", calls, dec.Outcome)
	}
}

func TestFetchFailureLeavesHistoryUntouched(t *testing.T) {
	store := cache.NewMemory()
	_ = store.Push(context.Background(), "ZEE_LAST_RATE", cache.Observation{Rate: 0.04, Grew: true})
	d := newTestDetector(store, &recordingNotifier{})

	asset := Asset{Symbol: "ZEE", Step: 0.001, Fetch: func(context.Context) (float64, error) {
		return 0, retry.Permanent(errors.New("field usd is missing"))
	}}
	if _, err := d.Check(context.Background(), asset); err == nil {
		t.Fatal("取价失败应返回错误")
	}
	hist, _ := store.History(context.Background(), "ZEE_LAST_RATE")
	if len(hist) != 1 {
		t.Fatalf("失败时不应写入历史: %+v", hist)
	}
}

func TestNotifierErrorIsReturnedAfterPush(t *testing.T) {
	store := cache.NewMemory()
	n := &recordingNotifier{err: errors.New("telegram down")}
	d := newTestDetector(store, n)

	asset := feed("BTC", 1000, 50000, 51200, 52100)
	run(t, d, asset, 2)
	if _, err := d.Check(context.Background(), *asset); err == nil {
		t.Fatal("通知失败应返回错误")
	}
	hist, _ := store.History(context.Background(), "BTC_LAST_RATE")
	if len(hist) != 3 {
		t.Fatalf("通知前应已写入历史: %d", len(hist))
	}
}

func TestCustomHistoryKey(t *testing.T) {
	a := Asset{Symbol: "ETH", HistoryKey: "eth_rates"}
	if a.Key() != "eth_rates" {
		t.Fatalf("自定义 key 不生效: %s", a.Key())
	}
	if (Asset{Symbol: "BTC"}).Key() != "BTC_LAST_RATE" {
		t.Fatal("默认 key 不正确")
	}
}

func TestNonFiniteInputIsRejected(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemory()
	n := &recordingNotifier{}
	d := newTestDetector(store, n)

	for _, price := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := d.Observe(ctx, Asset{Symbol: "BTC", Step: 1000}, price); err == nil {
			t.Fatalf("价格 %v 应被拒绝", price)
		}
	}
	for _, step := range []float64{math.NaN(), math.Inf(1)} {
		if _, err := d.Observe(ctx, Asset{Symbol: "BTC", Step: step}, 50000); err == nil {
			t.Fatalf("步长 %v 应被拒绝", step)
		}
	}

	asset := Asset{Symbol: "BTC", Step: 1000, Fetch: func(context.Context) (float64, error) {
		return math.NaN(), nil
	}}
	if _, err := d.Check(ctx, asset); err == nil {
		t.Fatal("上游返回 NaN 应报错")
	}
	hist, _ := store.History(ctx, asset.Key())
	if len(hist) != 0 || len(n.alerts) != 0 {
		t.Fatalf("非有限输入不应写入历史或通知: %+v %+v", hist, n.alerts)
	}
}
