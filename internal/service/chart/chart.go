// Package chart builds QuickChart render URLs from tabular data, so replies
// can embed chart images without any local rendering.
package chart

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

const baseURL = "https://quickchart.io/chart"

// Request describes one chart to render.
type Request struct {
	Type  string           `json:"chart_type"`
	Title string           `json:"title"`
	Data  []map[string]any `json:"data"`
	XAxis string           `json:"x_axis"`
	YAxis string           `json:"y_axis"`
}

var validTypes = map[string]bool{
	"bar":     true,
	"line":    true,
	"pie":     true,
	"scatter": true,
}

// BuildURL validates the request and returns a QuickChart URL encoding the
// chart configuration.
func BuildURL(req Request) (string, error) {
	if !validTypes[req.Type] {
		return "", fmt.Errorf("unsupported chart type %q", req.Type)
	}
	if len(req.Data) == 0 {
		return "", fmt.Errorf("cannot generate chart with empty data")
	}

	axisBased := req.Type != "pie"
	if axisBased {
		if req.XAxis == "" || req.YAxis == "" {
			return "", fmt.Errorf("x_axis and y_axis are required for %s charts", req.Type)
		}
		if _, ok := req.Data[0][req.XAxis]; !ok {
			return "", fmt.Errorf("x_axis field %q missing from data", req.XAxis)
		}
		if _, ok := req.Data[0][req.YAxis]; !ok {
			return "", fmt.Errorf("y_axis field %q missing from data", req.YAxis)
		}
	}

	labels := make([]string, 0, len(req.Data))
	values := make([]float64, 0, len(req.Data))
	for _, row := range req.Data {
		labels = append(labels, stringValue(row[req.XAxis]))
		values = append(values, floatValue(row[req.YAxis]))
	}

	label := req.Title
	if label == "" {
		label = req.YAxis
	}

	cfg := map[string]any{
		"type": req.Type,
		"data": map[string]any{
			"labels": labels,
			"datasets": []map[string]any{{
				"label":           label,
				"data":            values,
				"backgroundColor": "rgba(54, 162, 235, 0.5)",
				"borderColor":     "rgb(54, 162, 235)",
				"borderWidth":     1,
			}},
		},
		"options": map[string]any{
			"responsive": true,
			"scales": map[string]any{
				"y": map[string]any{"beginAtZero": true, "display": axisBased},
				"x": map[string]any{"display": axisBased},
			},
			"plugins": map[string]any{
				"title":  map[string]any{"display": req.Title != "", "text": req.Title},
				"legend": map[string]any{"display": req.Type == "pie"},
			},
		},
	}

	encoded, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode chart config: %w", err)
	}

	return fmt.Sprintf("%s?c=%s&w=600&h=400", baseURL, url.QueryEscape(string(encoded))), nil
}

func stringValue(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func floatValue(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return 0
}
