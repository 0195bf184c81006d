package signal

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func validLong() Intent {
	return Intent{Side: Long, LimitPx: 100, SlPx: 95, TpPx: TakeProfits{P1: 105, P2: 110, P3: 115}, Leverage: 5}
}

func TestIntentValidate(t *testing.T) {
	if err := validLong().Validate(); err != nil {
		t.Fatalf("expected valid long intent, got %v", err)
	}

	short := Intent{Side: Short, LimitPx: 100, SlPx: 105, TpPx: TakeProfits{P1: 95, P2: 90, P3: 85}, Leverage: 3}
	if err := short.Validate(); err != nil {
		t.Fatalf("expected valid short intent, got %v", err)
	}

	cases := map[string]func(*Intent){
		"stop above long entry": func(i *Intent) { i.SlPx = 101 },
		"tp out of order":       func(i *Intent) { i.TpPx.P2 = 104 },
		"zero leverage":         func(i *Intent) { i.Leverage = 0 },
		"no side":               func(i *Intent) { i.Side = None },
		"negative size":         func(i *Intent) { i.Size = -1 },
	}
	for name, mutate := range cases {
		in := validLong()
		mutate(&in)
		if err := in.Validate(); !errors.Is(err, ErrInvalidIntent) {
			t.Fatalf("%s: expected ErrInvalidIntent, got %v", name, err)
		}
	}
}

func TestEventJSONShape(t *testing.T) {
	in := validLong()
	ev := Event{Ts: 1700000000000, Symbol: "SOLUSDT", Signal: Long, Confirm: Confirm{VWAPReclaim: true, CVDTrend: TrendUp}, Intent: &in}
	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"ts":1700000000000,"symbol":"SOLUSDT","signal":"long","confirm":{"vwap_reclaim":true,"cvd_trend":"up"},"intent":{"side":"long","limitPx":100,"size":0,"slPx":95,"tpPx":{"p1":105,"p2":110,"p3":115},"leverage":5}}`
	if string(raw) != want {
		t.Fatalf("unexpected json\n got %s\nwant %s", raw, want)
	}

	var back Event
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Signal != Long || back.Intent == nil || back.Intent.TpPx.P3 != 115 {
		t.Fatalf("unexpected decoded event %+v", back)
	}
}

func TestNoneSignalIsNull(t *testing.T) {
	raw, err := json.Marshal(Event{Symbol: "SOLUSDT"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"signal":null`) {
		t.Fatalf("expected null signal, got %s", raw)
	}
	if strings.Contains(string(raw), "intent") {
		t.Fatalf("expected intent omitted, got %s", raw)
	}
}
