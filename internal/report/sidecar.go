package report

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/somnari/somnari-backend/internal/types"
)

// The enhancement response is free-form prose with a trailing structured
// marker: metrics-marker: {"kpi":{"positive":P,"neutral":N,"negative":M},"used":D}
// The match is tolerant of surrounding prose and markdown; when several
// markers appear the last one wins.
var metricsMarkerRe = regexp.MustCompile(`metrics-marker:\s*(\{[^\n]*\})`)

type sidecarEnvelope struct {
	KPI *struct {
		Positive *float64 `json:"positive"`
		Neutral  *float64 `json:"neutral"`
		Negative *float64 `json:"negative"`
	} `json:"kpi"`
	Used *int `json:"used"`
}

// ExtractMetrics parses the metrics sidecar out of a raw synthesis
// response. It returns the parsed metrics and the narrative with the
// marker line stripped.
func ExtractMetrics(raw string) (types.ProMetrics, string, error) {
	matches := metricsMarkerRe.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return types.ProMetrics{}, "", fmt.Errorf("%w: no metrics marker", ErrUnparsable)
	}
	m := matches[len(matches)-1]
	fragment := raw[m[2]:m[3]]

	var env sidecarEnvelope
	if err := json.Unmarshal([]byte(fragment), &env); err != nil {
		return types.ProMetrics{}, "", fmt.Errorf("%w: %v", ErrUnparsable, err)
	}
	if env.KPI == nil || env.KPI.Positive == nil || env.KPI.Neutral == nil || env.KPI.Negative == nil {
		return types.ProMetrics{}, "", fmt.Errorf("%w: incomplete kpi", ErrUnparsable)
	}
	if env.Used == nil || *env.Used < 0 {
		return types.ProMetrics{}, "", fmt.Errorf("%w: missing used count", ErrUnparsable)
	}
	if *env.KPI.Positive < 0 || *env.KPI.Neutral < 0 || *env.KPI.Negative < 0 {
		return types.ProMetrics{}, "", fmt.Errorf("%w: negative percentage", ErrUnparsable)
	}

	narrative := strings.TrimSpace(raw[:m[0]] + raw[m[1]:])
	return types.ProMetrics{
		Positive:   *env.KPI.Positive,
		Neutral:    *env.KPI.Neutral,
		Negative:   *env.KPI.Negative,
		DreamsUsed: *env.Used,
	}, narrative, nil
}
