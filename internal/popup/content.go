// Package popup renders feature properties as the HTML shown on click.
package popup

import (
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"
)

const sioseKey = "SIOSE_XML"

type Config struct {
	TextMaxLength int `json:"textMaxLength"`
	MaxWidth      int `json:"maxWidth"`
	MaxHeight     int `json:"maxHeight"`
}

func DefaultConfig() Config {
	return Config{TextMaxLength: 160, MaxWidth: 400, MaxHeight: 260}
}

const (
	cellKey = `<td style="vertical-align:top;font-weight:600;padding:4px 6px;border-bottom:1px solid #eee">`
	cellVal = `<td style="padding:4px 6px;border-bottom:1px solid #eee">`
)

// BuildContent renders props as a two-column table, keys sorted. Values longer
// than TextMaxLength runes are cut and marked with an ellipsis. SIOSE_XML
// values are expanded into their land cover breakdown.
func BuildContent(props geojson.Properties, cfg Config) string {
	if len(props) == 0 {
		return "<div>No properties</div>"
	}
	if cfg.TextMaxLength <= 0 {
		cfg.TextMaxLength = DefaultConfig().TextMaxLength
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(`<div style="max-width:320px;font-size:13px"><table style="width:100%;border-collapse:collapse">`)
	for _, k := range keys {
		val := stringify(props[k])
		b.WriteString("<tr>")
		b.WriteString(cellKey)
		b.WriteString(html.EscapeString(k))
		b.WriteString("</td>")
		b.WriteString(cellVal)
		if k == sioseKey && val != "" {
			b.WriteString(RenderSIOSE(val, cfg))
		} else {
			b.WriteString(truncate(val, cfg.TextMaxLength))
		}
		b.WriteString("</td></tr>")
	}
	b.WriteString("</table></div>")
	return b.String()
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return html.EscapeString(s)
	}
	return html.EscapeString(string(r[:max])) + "…"
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case json.Number:
		return x.String()
	case fmt.Stringer:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
