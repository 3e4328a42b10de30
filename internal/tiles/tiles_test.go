package tiles

import (
	"context"
	"errors"
	"testing"

	"github.com/paulmach/orb"

	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/model"
	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/surface"
)

const osm = "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"

func TestExpand(t *testing.T) {
	cases := []struct {
		tmpl    string
		z, x, y int
		want    string
	}{
		{osm, 12, 2038, 1584, "https://b.tile.openstreetmap.org/12/2038/1584.png"},
		{osm, 1, 0, 0, "https://a.tile.openstreetmap.org/1/0/0.png"},
		{osm, 2, 1, 1, "https://c.tile.openstreetmap.org/2/1/1.png"},
		{"/capas/t/{z}/{x}/{-y}{r}.png", 3, 1, 2, "/capas/t/3/1/5.png"},
	}
	for _, tc := range cases {
		if got := Expand(tc.tmpl, tc.z, tc.x, tc.y); got != tc.want {
			t.Errorf("Expand(%d,%d,%d)=%q want %q", tc.z, tc.x, tc.y, got, tc.want)
		}
	}
}

func TestOptionsFrom(t *testing.T) {
	o := OptionsFrom(model.LayerOptions{})
	if o != DefaultOptions() || o.Opacity != 0.7 || o.MaxZoom != 22 {
		t.Fatalf("defaults=%+v", o)
	}
	o = OptionsFrom(model.LayerOptions{
		Opacity:     model.Ptr(0.4),
		MinZoom:     model.Ptr(0),
		MaxZoom:     model.Ptr(18),
		Attribution: model.Ptr("IGN"),
	})
	if o.Opacity != 0.4 || o.MinZoom != 0 || o.MaxZoom != 18 || o.Attribution != "IGN" {
		t.Fatalf("options=%+v", o)
	}
}

func TestLayer_URLRange(t *testing.T) {
	l := NewLayer("t", osm, Options{Opacity: 1, MinZoom: 2, MaxZoom: 10}, nil)
	if _, err := l.URL(1, 0, 0); !errors.Is(err, ErrZoomOutOfRange) {
		t.Fatalf("want ErrZoomOutOfRange, got %v", err)
	}
	if _, err := l.URL(3, 8, 0); !errors.Is(err, ErrTileOutOfRange) {
		t.Fatalf("want ErrTileOutOfRange, got %v", err)
	}
	if u, err := l.URL(3, 7, 7); err != nil || u != "https://c.tile.openstreetmap.org/3/7/7.png" {
		t.Fatalf("url=%q err=%v", u, err)
	}
}

func TestTileAt(t *testing.T) {
	tile := TileAt(-0.8614, 37.7079, 12)
	if tile.Z != 12 || tile.X != 2038 || tile.Y != 1584 {
		t.Fatalf("tile=%+v", tile)
	}
	l := NewLayer("t", osm, DefaultOptions(), nil)
	u, err := l.URLAt(-0.8614, 37.7079, 12)
	if err != nil || u != "https://b.tile.openstreetmap.org/12/2038/1584.png" {
		t.Fatalf("url=%q err=%v", u, err)
	}
}

func TestLayer_MountRemove(t *testing.T) {
	m := surface.NewMap(surface.MapOptions{Center: orb.Point{0, 0}, Zoom: 3})
	l := NewLayer("osm", osm, DefaultOptions(), m)
	l.Mount(context.Background())
	l.Mount(context.Background())
	if !m.Has(l) || m.Attachments() != 1 {
		t.Fatalf("not attached once")
	}
	if st := l.Status(); st.State != string(StateMounted) || st.Kind != model.KindTiles {
		t.Fatalf("status=%+v", st)
	}
	l.Remove()
	l.Remove()
	if m.Has(l) {
		t.Fatalf("still attached")
	}
	if err := l.Wait(); err != nil {
		t.Fatal(err)
	}
}
