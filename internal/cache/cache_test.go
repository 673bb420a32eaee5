package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryPushKeepsNewestThree(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for i := 1; i <= 5; i++ {
		if err := m.Push(ctx, "btc", Observation{Rate: float64(i), Grew: i%2 == 0}); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
		hist, _ := m.History(ctx, "btc")
		if len(hist) > MaxHistory {
			t.Fatalf("历史长度超过上限: %d", len(hist))
		}
	}

	hist, err := m.History(ctx, "btc")
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{5, 4, 3}
	if len(hist) != len(want) {
		t.Fatalf("期望 %d 条, 实际 %d", len(want), len(hist))
	}
	for i, rate := range want {
		if hist[i].Rate != rate {
			t.Fatalf("第 %d 条应为 %v, 实际 %v", i, rate, hist[i].Rate)
		}
	}
}

func TestMemoryKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Push(ctx, "btc", Observation{Rate: 1})
	_ = m.Push(ctx, "eth", Observation{Rate: 2})

	hist, _ := m.History(ctx, "btc")
	if len(hist) != 1 || hist[0].Rate != 1 {
		t.Fatalf("btc 历史不正确: %+v", hist)
	}
	empty, _ := m.History(ctx, "zee")
	if len(empty) != 0 {
		t.Fatalf("未写入的 key 应为空: %+v", empty)
	}
}

func TestMemoryHistoryReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Push(ctx, "btc", Observation{Rate: 1})

	hist, _ := m.History(ctx, "btc")
	hist[0].Rate = 99

	again, _ := m.History(ctx, "btc")
	if again[0].Rate != 1 {
		t.Fatal("调用方修改不应影响存储")
	}
}

func TestMemoryScalarExpires(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	if _, ok, _ := m.Scalar(ctx, "btc_dominance"); ok {
		t.Fatal("空缓存不应命中")
	}
	_ = m.SetScalar(ctx, "btc_dominance", 54.2, 20*time.Minute)

	now = now.Add(19 * time.Minute)
	v, ok, err := m.Scalar(ctx, "btc_dominance")
	if err != nil || !ok || v != 54.2 {
		t.Fatalf("TTL 内应命中: %v %v %v", v, ok, err)
	}

	now = now.Add(time.Minute)
	if _, ok, _ := m.Scalar(ctx, "btc_dominance"); ok {
		t.Fatal("过期后不应命中")
	}
}

func TestObservationCodec(t *testing.T) {
	raw, err := encodeObservation(Observation{Rate: 51200, Grew: true})
	if err != nil {
		t.Fatal(err)
	}
	if raw != `{"rate":51200,"grew":true}` {
		t.Fatalf("编码格式不正确: %s", raw)
	}

	obs, err := decodeObservation(`{"rate":0.0425,"grew":false}`)
	if err != nil {
		t.Fatal(err)
	}
	if obs.Rate != 0.0425 || obs.Grew {
		t.Fatalf("解码结果不正确: %+v", obs)
	}

	if _, err := decodeObservation("not json"); err == nil {
		t.Fatal("非法数据应报错")
	}
}
