package convert

import (
	"encoding/json"

	"github.com/xuan1250/Transfer2Read-sub004/internal/domain"
)

// Stage metadata round-trips through jsonb, so numbers come back as
// float64 and typed values as generic maps. These helpers recover the
// concrete types without caring whether the map was freshly built or
// decoded from storage.

func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func metaFloat(meta map[string]any, key string) float64 {
	switch v := meta[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func metaStr(meta map[string]any, key string) string {
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

func metaStrSlice(meta map[string]any, key string) []string {
	switch v := meta[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// metaDecode re-marshals a meta value into a concrete type. Handles both
// the in-process case (the value is already the concrete type) and the
// post-storage case (the value is a map[string]any).
func metaDecode(meta map[string]any, key string, dst any) error {
	raw, ok := meta[key]
	if !ok {
		return domain.NewError(domain.KindStorageFailure, "stage metadata missing key "+key)
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return domain.WrapError(domain.KindStorageFailure, "encode stage metadata "+key, err)
	}
	if err := json.Unmarshal(buf, dst); err != nil {
		return domain.WrapError(domain.KindStorageFailure, "decode stage metadata "+key, err)
	}
	return nil
}

func reportFromMeta(meta map[string]any) (*domain.QualityReport, error) {
	var report domain.QualityReport
	if err := metaDecode(meta, "report", &report); err != nil {
		return nil, err
	}
	return &report, nil
}
