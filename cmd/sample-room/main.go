// Command sample-room writes a synthetic room scan for trying out roomscan.
package main

import (
	"flag"
	"log"

	"github.com/unixpickle/essentials"

	"github.com/banshee-data/roomscan/internal/meshio"
	"github.com/banshee-data/roomscan/internal/security"
	"github.com/banshee-data/roomscan/internal/synthetic"
)

func main() {
	defaults := synthetic.DefaultRoomParams()

	var outPath string
	var params synthetic.RoomParams
	var outliers int
	flag.StringVar(&outPath, "output", "sample_room.ply", "output point cloud (.ply or .pcd)")
	flag.IntVar(&params.Points, "points", defaults.Points, "approximate number of surface points")
	flag.Float64Var(&params.Noise, "noise", defaults.Noise, "per-axis Gaussian noise in meters")
	flag.Uint64Var(&params.Seed, "seed", defaults.Seed, "random seed")
	flag.Float64Var(&params.Width, "width", defaults.Width, "room extent along X in meters")
	flag.Float64Var(&params.Depth, "depth", defaults.Depth, "room extent along Y in meters")
	flag.Float64Var(&params.Height, "height", defaults.Height, "room extent along Z in meters")
	flag.IntVar(&outliers, "outliers", 0, "number of uniformly scattered outlier points to add")
	flag.Parse()

	roots, err := security.OutputRoots()
	essentials.Must(err)
	if err := security.ValidateOutputPath(outPath, []string{meshio.ExtPLY, meshio.ExtPCD}, roots...); err != nil {
		essentials.Die(err)
	}

	scan, err := synthetic.Room(params)
	essentials.Must(err)
	cloud := scan.Cloud
	if outliers > 0 {
		cloud, _ = synthetic.WithOutliers(cloud, outliers, params.Seed+1)
	}

	// Normals are dropped so the file looks like raw scanner output.
	cloud.Normals = nil
	essentials.Must(meshio.SaveArtifact(outPath, cloud, nil))
	log.Printf("wrote %d points to %s", cloud.Len(), outPath)
}
