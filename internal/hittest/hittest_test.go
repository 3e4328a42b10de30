package hittest

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

func square(x0, y0, x1, y1 float64) orb.Ring {
	return orb.Ring{{x0, y0}, {x0, y1}, {x1, y1}, {x1, y0}}
}

func TestPointInRing_Square(t *testing.T) {
	r := square(0, 0, 10, 10)
	cases := []struct {
		x, y float64
		want bool
	}{
		{5, 5, true},
		{0.5, 9.5, true},
		{-1, 5, false},
		{11, 5, false},
		{5, -1, false},
		{5, 11, false},
		{100, 100, false},
	}
	for _, tc := range cases {
		if got := PointInRing(tc.x, tc.y, r); got != tc.want {
			t.Fatalf("PointInRing(%v,%v) got=%v want=%v", tc.x, tc.y, got, tc.want)
		}
	}
}

func TestPointInRing_ClosedAndOpenAgree(t *testing.T) {
	open := square(0, 0, 4, 4)
	closed := append(orb.Ring{}, open...)
	closed = append(closed, open[0])
	for _, p := range []orb.Point{{1, 1}, {3.9, 0.1}, {5, 5}, {-0.1, 2}} {
		if PointInRing(p[0], p[1], open) != PointInRing(p[0], p[1], closed) {
			t.Fatalf("open/closed ring disagree at %v", p)
		}
	}
}

func TestPointInRing_HorizontalEdgeAtTestY(t *testing.T) {
	// edges (0,5)-(10,5) lie on the ray; must not divide by zero
	r := orb.Ring{{0, 0}, {0, 5}, {10, 5}, {10, 0}}
	if PointInRing(5, 5, r) {
		t.Fatalf("point on top horizontal edge reported inside")
	}
	if !PointInRing(5, 2.5, r) {
		t.Fatalf("interior point reported outside")
	}

	flat := orb.Ring{{0, 1}, {5, 1}, {10, 1}}
	if PointInRing(3, 1, flat) {
		t.Fatalf("collinear ring must not contain points")
	}
}

func TestPointInRing_Degenerate(t *testing.T) {
	if PointInRing(0, 0, nil) {
		t.Fatalf("nil ring must be false")
	}
	if PointInRing(0, 0, orb.Ring{{0, 0}, {1, 1}}) {
		t.Fatalf("two-point ring must be false")
	}
	same := orb.Ring{{1, 1}, {1, 1}, {1, 1}}
	if PointInRing(1, 1, same) != PointInRing(1, 1, same) {
		t.Fatalf("degenerate ring result must be deterministic")
	}
}

func TestPointInPolygon_Hole(t *testing.T) {
	poly := orb.Polygon{
		{{0, 0}, {0, 10}, {10, 10}, {10, 0}},
		{{4, 4}, {4, 6}, {6, 6}, {6, 4}},
	}
	if PointInPolygon(5, 5, poly) {
		t.Fatalf("(5,5) is inside the hole; want false")
	}
	if !PointInPolygon(1, 1, poly) {
		t.Fatalf("(1,1) is inside the shell; want true")
	}
	if PointInPolygon(1, 1, nil) {
		t.Fatalf("empty polygon must be false")
	}
}

func TestFeatureContainsPoint_ConvexAndBBox(t *testing.T) {
	// convex hexagon around (0,0)
	hex := orb.Polygon{{{2, 0}, {1, 1.7}, {-1, 1.7}, {-2, 0}, {-1, -1.7}, {1, -1.7}}}
	f := geojson.NewFeature(hex)

	for _, p := range []orb.Point{{0, 0}, {1, 0.5}, {-1.5, 0}, {0, -1.6}} {
		if !FeatureContainsPoint(f, p[0], p[1]) {
			t.Fatalf("inside point %v reported outside", p)
		}
	}
	b := hex.Bound()
	for _, p := range []orb.Point{{b.Max[0] + 0.1, 0}, {0, b.Min[1] - 1}, {-3, 3}} {
		if FeatureContainsPoint(f, p[0], p[1]) {
			t.Fatalf("point %v outside bbox reported inside", p)
		}
	}
}

func TestFeatureContainsPoint_MultiPolygon(t *testing.T) {
	mp := orb.MultiPolygon{
		{square(0, 0, 1, 1)},
		{square(5, 5, 6, 6)},
	}
	f := geojson.NewFeature(mp)
	if !FeatureContainsPoint(f, 0.5, 0.5) || !FeatureContainsPoint(f, 5.5, 5.5) {
		t.Fatalf("expected containment in either member")
	}
	if FeatureContainsPoint(f, 3, 3) {
		t.Fatalf("point between members must be false")
	}
}

func TestFeatureContainsPoint_OtherGeometries(t *testing.T) {
	for _, g := range []orb.Geometry{
		orb.Point{1, 1},
		orb.LineString{{0, 0}, {2, 2}},
		orb.MultiPoint{{1, 1}},
		orb.Collection{orb.Polygon{square(0, 0, 2, 2)}},
	} {
		if FeatureContainsPoint(geojson.NewFeature(g), 1, 1) {
			t.Fatalf("%s must never be hit", g.GeoJSONType())
		}
	}
	if FeatureContainsPoint(nil, 0, 0) {
		t.Fatalf("nil feature must be false")
	}
	if FeatureContainsPoint(&geojson.Feature{}, 0, 0) {
		t.Fatalf("feature without geometry must be false")
	}
}

func TestFindFeaturesAtPoint_PreservesOrder(t *testing.T) {
	a := geojson.NewFeature(orb.Polygon{square(0, 0, 10, 10)})
	a.Properties["id"] = "a"
	b := geojson.NewFeature(orb.Point{1, 1})
	b.Properties["id"] = "b"
	c := geojson.NewFeature(orb.Polygon{square(0, 0, 2, 2)})
	c.Properties["id"] = "c"
	d := geojson.NewFeature(orb.Polygon{square(5, 5, 6, 6)})
	d.Properties["id"] = "d"

	got := FindFeaturesAtPoint([]*geojson.Feature{a, b, c, d}, 1, 1)
	if len(got) != 2 {
		t.Fatalf("matches=%d want 2", len(got))
	}
	if got[0].Properties["id"] != "a" || got[1].Properties["id"] != "c" {
		t.Fatalf("order got=[%v %v] want=[a c]", got[0].Properties["id"], got[1].Properties["id"])
	}
	if FindFeaturesAtPoint(nil, 1, 1) != nil {
		t.Fatalf("no features must yield no matches")
	}
}
