package searchcache

import (
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// BuildKey 由前缀和参数对象生成确定性的缓存键。
// 参数按键名排序后序列化（encoding/json 对 map 按键排序），字符串统一为 NFC，
// 因此属性插入顺序或 Unicode 组合方式不同的等价查询会得到同一个键。
func BuildKey(prefix string, params map[string]any) string {
	normalized := normalize(params)

	raw, err := json.Marshal(normalized)
	if err != nil {
		// fmt 同样按键名排序输出 map
		return fmt.Sprintf("%s:%v", norm.NFC.String(prefix), normalized)
	}
	return norm.NFC.String(prefix) + ":" + string(raw)
}

func normalize(v any) any {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[norm.NFC.String(k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, s := range t {
			out[i] = norm.NFC.String(s)
		}
		return out
	default:
		return v
	}
}
