package geometry

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestPointCloud_Validate(t *testing.T) {
	tests := []struct {
		name    string
		pc      *PointCloud
		wantErr bool
	}{
		{"empty", &PointCloud{}, true},
		{"points only", NewPointCloud([]r3.Vec{{X: 1}}), false},
		{"partial colors", &PointCloud{Points: []r3.Vec{{}, {X: 1}}, Colors: []colorful.Color{{R: 1}}}, true},
		{"partial normals", &PointCloud{Points: []r3.Vec{{}, {X: 1}}, Normals: []r3.Vec{{Z: 1}}}, true},
		{"full attributes", &PointCloud{
			Points:  []r3.Vec{{}, {X: 1}},
			Colors:  []colorful.Color{{R: 1}, {G: 1}},
			Normals: []r3.Vec{{Z: 1}, {Z: 1}},
		}, false},
		{"nan coordinate", NewPointCloud([]r3.Vec{{X: math.NaN()}}), true},
		{"inf coordinate", NewPointCloud([]r3.Vec{{Y: math.Inf(1)}}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pc.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPointCloud_ValidateEmptyIsEmptyInput(t *testing.T) {
	var pc *PointCloud
	if err := pc.Validate(); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("nil cloud: got %v, want ErrEmptyInput", err)
	}
}

func TestPointCloud_SubsetCarriesAttributes(t *testing.T) {
	pc := &PointCloud{
		Points:  []r3.Vec{{X: 0}, {X: 1}, {X: 2}},
		Colors:  []colorful.Color{{R: 0.1}, {R: 0.2}, {R: 0.3}},
		Normals: []r3.Vec{{Z: 1}, {Y: 1}, {X: 1}},
	}
	sub := pc.Subset([]int{2, 0})

	want := &PointCloud{
		Points:  []r3.Vec{{X: 2}, {X: 0}},
		Colors:  []colorful.Color{{R: 0.3}, {R: 0.1}},
		Normals: []r3.Vec{{X: 1}, {Z: 1}},
	}
	if diff := cmp.Diff(want, sub); diff != "" {
		t.Errorf("Subset mismatch (-want +got):\n%s", diff)
	}
}

func TestPointCloud_CloneIsIndependent(t *testing.T) {
	pc := &PointCloud{Points: []r3.Vec{{X: 1}}, Normals: []r3.Vec{{Z: 1}}}
	c := pc.Clone()
	c.Points[0].X = 5
	c.Normals[0].Z = -1
	if pc.Points[0].X != 1 || pc.Normals[0].Z != 1 {
		t.Error("Clone shares storage with the original")
	}
	if c.HasColors() {
		t.Error("Clone invented colors")
	}
}

func TestBoundsAndCentroid(t *testing.T) {
	pts := []r3.Vec{{X: -1, Y: 2, Z: 0}, {X: 3, Y: -2, Z: 1}, {X: 1, Y: 0, Z: 5}}
	b := BoundsOf(pts)
	if b.Min != (r3.Vec{X: -1, Y: -2, Z: 0}) || b.Max != (r3.Vec{X: 3, Y: 2, Z: 5}) {
		t.Errorf("BoundsOf = %+v", b)
	}
	c := Centroid(pts)
	if c != (r3.Vec{X: 1, Y: 0, Z: 2}) {
		t.Errorf("Centroid = %v, want (1,0,2)", c)
	}
	if BoundsOf(nil) != (r3.Box{}) {
		t.Error("BoundsOf(nil) should be the zero box")
	}
}
