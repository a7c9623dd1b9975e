// Command roomscan turns a room scan point cloud into a surface mesh.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/roomscan/internal/config"
	"github.com/banshee-data/roomscan/internal/db"
	"github.com/banshee-data/roomscan/internal/meshio"
	"github.com/banshee-data/roomscan/internal/pipeline"
	"github.com/banshee-data/roomscan/internal/report"
	"github.com/banshee-data/roomscan/internal/security"
	"github.com/banshee-data/roomscan/internal/storage/sqlite"
	"github.com/banshee-data/roomscan/internal/version"
)

var (
	inputPath   = flag.String("input", "", "Input point cloud (.ply, .pcd, .pts, .xyz, .xyzn or .xyzrgb)")
	outputPath  = flag.String("output", "", "Output artifact (.stl, .ply, .obj, .gltf, .glb or .pcd)")
	configPath  = flag.String("config", "", "Pipeline config JSON (built-in defaults when empty)")
	skipMesh    = flag.Bool("skip-mesh", false, "Stop after normal estimation and save the oriented cloud")
	speculative = flag.Bool("speculative", false, "Run Poisson and ball pivoting concurrently")
	timeout     = flag.Duration("timeout", 0, "Abort the run after this long (overrides the config)")
	reportDir   = flag.String("report-dir", "", "Write a neighbor histogram and stage dashboard here")
	dbPath      = flag.String("db", "", "Record the run in this SQLite database")
	runName     = flag.String("name", "", "Run label used for report file names (default: input file name)")
	listRuns    = flag.Int("list-runs", 0, "Print the N most recent runs from -db and exit")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// options is the parsed command line.
type options struct {
	Input       string
	Output      string
	Config      string
	SkipMesh    bool
	Speculative bool
	Timeout     time.Duration
	ReportDir   string
	DBPath      string
	Name        string
}

// outcome describes what a run wrote.
type outcome struct {
	Artifact string
	Result   *pipeline.Result
	RunID    string
	Reports  []string
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("roomscan"))
		return
	}
	if *listRuns > 0 {
		if *dbPath == "" {
			log.Fatal("-list-runs requires -db")
		}
		if err := printRuns(context.Background(), os.Stdout, *dbPath, *listRuns); err != nil {
			log.Fatalf("list runs: %v", err)
		}
		return
	}
	if *inputPath == "" {
		log.Fatal("Input path is required")
	}
	if *outputPath == "" {
		log.Fatal("Output path is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out, err := run(ctx, options{
		Input:       *inputPath,
		Output:      *outputPath,
		Config:      *configPath,
		SkipMesh:    *skipMesh,
		Speculative: *speculative,
		Timeout:     *timeout,
		ReportDir:   *reportDir,
		DBPath:      *dbPath,
		Name:        *runName,
	})
	if err != nil {
		log.Fatalf("roomscan: %v", err)
	}

	for _, w := range out.Result.Warnings {
		log.Printf("warning: %s", w)
	}
	log.Printf("wrote %s (state %s)", out.Artifact, out.Result.State)
	for _, r := range out.Reports {
		log.Printf("wrote report %s", r)
	}
	if out.RunID != "" {
		log.Printf("recorded run %s", out.RunID)
	}
}

func loadParams(opts options) (pipeline.Params, error) {
	cfg := config.DefaultPipelineConfig()
	if opts.Config != "" {
		var err error
		if cfg, err = config.LoadPipelineConfig(opts.Config); err != nil {
			return pipeline.Params{}, err
		}
	}
	params := pipeline.ParamsFromConfig(cfg)
	params.SkipMesh = opts.SkipMesh
	if opts.Speculative {
		params.Speculative = true
	}
	if opts.Timeout > 0 {
		params.Timeout = opts.Timeout
	}
	return params, nil
}

// run executes one pipeline invocation and writes its artifacts. An aborted
// run is still recorded when a database is configured.
func run(ctx context.Context, opts options) (*outcome, error) {
	roots, err := security.OutputRoots()
	if err != nil {
		return nil, err
	}
	if err := security.ValidateOutputPath(opts.Output, meshio.Extensions, roots...); err != nil {
		return nil, err
	}
	params, err := loadParams(opts)
	if err != nil {
		return nil, err
	}
	if meshio.CloudOnly(opts.Output) && !params.SkipMesh {
		log.Printf("%s holds point clouds only, skipping mesh reconstruction", filepath.Ext(opts.Output))
		params.SkipMesh = true
	}

	pc, err := meshio.ReadPointCloudFile(opts.Input)
	if err != nil {
		return nil, err
	}
	log.Printf("read %d points from %s, %s", pc.Len(), opts.Input, describeBounds(pc.Bounds()))

	name := opts.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(opts.Input), filepath.Ext(opts.Input))
	}

	started := time.Now()
	res, runErr := pipeline.New(params).Run(ctx, pc)
	if runErr != nil {
		if opts.DBPath != "" {
			record := sqlite.RunFromResult(name, opts.Input, "", pc.Len(), params, nil, runErr)
			if _, err := recordRun(ctx, opts.DBPath, record); err != nil {
				log.Printf("failed to record aborted run: %v", err)
			}
		}
		return nil, runErr
	}

	out := &outcome{Artifact: opts.Output, Result: res}
	if !res.HasMesh() && meshio.MeshOnly(opts.Output) {
		out.Artifact = meshio.FallbackPath(opts.Output)
		log.Printf("no mesh produced, saving the oriented cloud to %s", out.Artifact)
	}
	if err := meshio.SaveArtifact(out.Artifact, res.Cloud, res.Mesh); err != nil {
		return nil, err
	}

	if opts.ReportDir != "" {
		out.Reports, err = writeReports(opts.ReportDir, name, started, res)
		if err != nil {
			return nil, err
		}
	}

	if opts.DBPath != "" {
		record := sqlite.RunFromResult(name, opts.Input, out.Artifact, pc.Len(), params, res, nil)
		if out.RunID, err = recordRun(ctx, opts.DBPath, record); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// describeBounds formats an axis-aligned box as its corners and extent.
func describeBounds(b r3.Box) string {
	size := b.Size()
	return fmt.Sprintf("bounds (%.3f, %.3f, %.3f)..(%.3f, %.3f, %.3f), extent %.3f x %.3f x %.3f m",
		b.Min.X, b.Min.Y, b.Min.Z, b.Max.X, b.Max.Y, b.Max.Z, size.X, size.Y, size.Z)
}

func writeReports(dir, name string, createdAt time.Time, res *pipeline.Result) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	stem := filepath.Join(dir, security.SanitizeName(name))

	var written []string
	if res.Outliers != nil {
		path := stem + "-neighbors.png"
		if err := report.NeighborHistogram(path, res.Outliers); err != nil {
			return nil, err
		}
		written = append(written, path)
	}
	path := stem + "-stages.html"
	if err := report.WriteDashboard(path, report.SummaryFromResult(name, createdAt, res)); err != nil {
		return nil, err
	}
	return append(written, path), nil
}

func recordRun(ctx context.Context, path string, record *sqlite.Run) (string, error) {
	database, err := db.Open(path)
	if err != nil {
		return "", err
	}
	defer database.Close()

	if err := sqlite.NewRunStore(database.DB).Insert(ctx, record); err != nil {
		return "", err
	}
	return record.RunID, nil
}

func printRuns(ctx context.Context, w io.Writer, path string, limit int) error {
	database, err := db.Open(path)
	if err != nil {
		return err
	}
	defer database.Close()

	runs, err := sqlite.NewRunStore(database.DB).List(ctx, limit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Fprintf(w, "%s  %s  %-24s  %8d pts  %8d tris  %s\n",
			r.CreatedAt.Format(time.RFC3339), r.RunID, r.State, r.OutputPoints, r.Triangles, r.Name)
	}
	return nil
}
