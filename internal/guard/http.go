package guard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultGuardsPath = "/engine/guards"

// HTTPSource reads snapshots from the backend guards endpoint. It never retries and never
// serves cached or fallback values: anything other than a fully live reading is ErrUnavailable.
type HTTPSource struct {
	client *resty.Client
	path   string
}

type guardsResponse struct {
	Ts         int64             `json:"ts"`
	SpreadBps  float64           `json:"spread_bps"`
	Depth      Depth             `json:"depth_10bps"`
	FundingAPR float64           `json:"funding_apr"`
	BasisBps   float64           `json:"basis_bps"`
	LiqEvents  int               `json:"liq_events_5m"`
	MaxLev     float64           `json:"max_leverage"`
	Sources    map[string]string `json:"data_sources"`
	Error      string            `json:"error"`
}

// NewHTTPSource builds a source against baseURL (e.g. http://backend:8001/api).
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	return &HTTPSource{client: client, path: defaultGuardsPath}
}

// Snapshot fetches one live reading.
func (s *HTTPSource) Snapshot(ctx context.Context) (*Snapshot, error) {
	var out guardsResponse
	resp, err := s.client.R().SetContext(ctx).SetResult(&out).Get(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode())
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: backend error: %s", ErrUnavailable, out.Error)
	}
	for name, state := range out.Sources {
		if state != "live" {
			return nil, fmt.Errorf("%w: %s source is %s", ErrUnavailable, name, state)
		}
	}

	ts := time.Now().UTC()
	if out.Ts > 0 {
		ts = time.UnixMilli(out.Ts).UTC()
	}
	return &Snapshot{
		Ts:          ts,
		SpreadBps:   out.SpreadBps,
		Depth:       out.Depth,
		FundingAPR:  out.FundingAPR,
		BasisBps:    out.BasisBps,
		LiqEvents5m: out.LiqEvents,
		MaxLeverage: out.MaxLev,
	}, nil
}
