package qc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tritonminingco/open-ocean-mapper/internal/httputil"
	"github.com/tritonminingco/open-ocean-mapper/internal/sounding"
)

// HTTPScorer calls an external inference service over HTTP. The wire
// contract is one POST per record carrying the record and the depth
// profile of its local window; the service answers with a normality
// score in [0,1]. Any transport or decode failure surfaces as
// ErrUnavailable through scoreWithTimeout.
type HTTPScorer struct {
	URL    string
	Client httputil.HTTPClient
}

// NewHTTPScorer builds a scorer against the given endpoint. A nil
// client uses http.DefaultClient.
func NewHTTPScorer(url string, client httputil.HTTPClient) *HTTPScorer {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &HTTPScorer{URL: url, Client: client}
}

type scoreRequest struct {
	Lat          float64   `json:"lat"`
	Lon          float64   `json:"lon"`
	Depth        float64   `json:"depth"`
	BeamAngleDeg *float64  `json:"beam_angle_deg,omitempty"`
	Quality      *float64  `json:"quality,omitempty"`
	WindowDepths []float64 `json:"window_depths"`
}

type scoreResponse struct {
	Score *float64 `json:"score"`
}

func (s *HTTPScorer) Score(ctx context.Context, rec sounding.SoundingRecord, window []sounding.SoundingRecord) (float64, error) {
	depths := make([]float64, 0, len(window))
	for i := range window {
		if !window[i].Invalid {
			depths = append(depths, window[i].Depth)
		}
	}
	body, err := json.Marshal(scoreRequest{
		Lat: rec.Lat, Lon: rec.Lon, Depth: rec.Depth,
		BeamAngleDeg: rec.BeamAngleDeg, Quality: rec.Quality,
		WindowDepths: depths,
	})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("scorer returned status %d", resp.StatusCode)
	}
	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	if out.Score == nil {
		return 0, fmt.Errorf("scorer response missing score field")
	}
	return *out.Score, nil
}
