package popup

import (
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

func TestBuildContent_NoProperties(t *testing.T) {
	for _, p := range []geojson.Properties{nil, {}} {
		if got := BuildContent(p, DefaultConfig()); got != "<div>No properties</div>" {
			t.Fatalf("got %q", got)
		}
	}
}

func TestBuildContent_SortedEscapedTruncated(t *testing.T) {
	props := geojson.Properties{
		"zeta":  "<b>bold</b>",
		"alpha": 1.5,
		"long":  strings.Repeat("ñ", 200),
		"empty": nil,
		"flag":  true,
	}
	got := BuildContent(props, DefaultConfig())

	order := []string{">alpha<", ">empty<", ">flag<", ">long<", ">zeta<"}
	last := -1
	for _, k := range order {
		i := strings.Index(got, k)
		if i < 0 || i < last {
			t.Fatalf("key %s missing or out of order in %s", k, got)
		}
		last = i
	}
	if strings.Contains(got, "<b>bold</b>") || !strings.Contains(got, "&lt;b&gt;bold&lt;/b&gt;") {
		t.Fatalf("value not escaped: %s", got)
	}
	if !strings.Contains(got, ">1.5<") || !strings.Contains(got, ">true<") {
		t.Fatalf("scalars not rendered: %s", got)
	}
	want := strings.Repeat("ñ", 160) + "…"
	if !strings.Contains(got, want) || strings.Contains(got, strings.Repeat("ñ", 161)) {
		t.Fatalf("long value not truncated at 160 runes")
	}
}

const sioseDoc = `<SIOSE><POLIGONO Id="P1" code="AAA">
  <COBERTURA ID="R" Desc="Compuesto" Sup="12.5">
    <ATRIBUTO ID="rr" Desc="regadio"/>
    <COBERTURA ID="CHL" Desc="Cultivos herbaceos" Sup_ha="8"/>
  </COBERTURA>
</POLIGONO></SIOSE>`

func TestRenderSIOSE(t *testing.T) {
	got := RenderSIOSE(sioseDoc, DefaultConfig())
	for _, want := range []string{
		`max-height:260px`,
		`>P1 AAA</div>`,
		`>R Compuesto (12.5)</div>`,
		`<li style="margin:2px 0">rr - regadio</li>`,
		`>CHL Cultivos herbaceos (8)</div>`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in %s", want, got)
		}
	}
	if strings.Index(got, "Compuesto") > strings.Index(got, "Cultivos") {
		t.Fatalf("nested cover rendered before its parent")
	}
}

func TestRenderSIOSE_MalformedFallsBack(t *testing.T) {
	got := RenderSIOSE("<POLIGONO><COBERTURA></POLIGONO>", DefaultConfig())
	if !strings.HasPrefix(got, "<pre") || !strings.Contains(got, "&lt;POLIGONO&gt;") {
		t.Fatalf("got %s", got)
	}
}

func TestBuildContent_SIOSEProperty(t *testing.T) {
	got := BuildContent(geojson.Properties{"SIOSE_XML": sioseDoc}, DefaultConfig())
	if !strings.Contains(got, "Compuesto (12.5)") {
		t.Fatalf("SIOSE_XML not expanded: %s", got)
	}
}

func TestCache(t *testing.T) {
	c, err := NewCache(2, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	f1 := geojson.NewFeature(orb.Point{0, 0})
	f1.Properties["name"] = "uno"
	f2 := geojson.NewFeature(orb.Point{1, 1})

	a := c.Content("l1", f1)
	f1.Properties["name"] = "changed"
	if b := c.Content("l1", f1); b != a {
		t.Fatalf("second lookup must be served from cache")
	}
	if !strings.Contains(a, "uno") {
		t.Fatalf("content=%s", a)
	}
	_ = c.Content("l2", f2)
	if c.Len() != 2 {
		t.Fatalf("len=%d", c.Len())
	}
	if n := c.Forget("l1"); n != 1 || c.Len() != 1 {
		t.Fatalf("Forget n=%d len=%d", n, c.Len())
	}
	if !strings.Contains(c.Content("l1", f1), "changed") {
		t.Fatalf("forgotten entry was not rebuilt")
	}
	if got := c.Content("l1", nil); got != "<div>No properties</div>" {
		t.Fatalf("nil feature=%q", got)
	}
}

func TestNew(t *testing.T) {
	p := New("l", orb.Point{1, 2}, "<div/>", DefaultConfig())
	if p.MaxWidth != 400 || p.MaxHeight != 260 || p.Position != (orb.Point{1, 2}) {
		t.Fatalf("popup=%+v", p)
	}
}
