package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/yaml.v3"

	"github.com/asgardahost/rpmbuilder/internal/api"
	"github.com/asgardahost/rpmbuilder/internal/builder"
	"github.com/asgardahost/rpmbuilder/internal/config"
	"github.com/asgardahost/rpmbuilder/internal/db"
	rerrors "github.com/asgardahost/rpmbuilder/internal/errors"
	"github.com/asgardahost/rpmbuilder/internal/logfields"
	"github.com/asgardahost/rpmbuilder/internal/metrics"
	"github.com/asgardahost/rpmbuilder/internal/models"
	"github.com/asgardahost/rpmbuilder/internal/source"
)

// CLI definition & global flags.
type CLI struct {
	Settings string `help:"Settings file (default: $RPMBUILDER_SETTINGS or /etc/rpmbuilder.ini)" type:"path"`
	Verbose  bool   `short:"v" help:"Enable verbose logging"`

	Build   BuildCmd   `cmd:"" default:"withargs" help:"Build a package (default command)"`
	History HistoryCmd `cmd:"" help:"List recorded builds"`
	Serve   ServeCmd   `cmd:"" help:"Serve the build history over HTTP"`

	stdout io.Writer
	stderr io.Writer
}

// AfterApply runs after flag parsing; setup logging once.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(c.stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

func (c *CLI) loadSettings() (*config.Settings, error) {
	settings, err := config.Load(c.Settings)
	if err != nil {
		return nil, err
	}
	if err := settings.Config().Validate(); err != nil {
		return nil, rerrors.ConfigUnavailable(err, "invalid settings in %s", settings.Path())
	}
	return settings, nil
}

func (c *CLI) openHistory(cfg *config.Config) (*db.DB, error) {
	if cfg.History.DatabasePath == "" {
		return nil, rerrors.Configuration("history.database_path is not set")
	}
	return db.NewDB(cfg.History.DatabasePath)
}

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	CurrentTime         string `name:"current_time" help:"Build token used in the workspace name (default: generated)"`
	GetSrcMethod        string `name:"get_src_method" required:"" help:"How sources are obtained: git_clone (git over ssh inside the container) or gitlab_api (staged through the GitLab API)"`
	GitlabURL           string `name:"gitlab_url" required:"" help:"Clone URL for git_clone, GitLab base URL for gitlab_api"`
	PkgBranch           string `name:"pkg_branch" required:"" help:"Branch to build"`
	ReleaseVer          string `name:"release_ver" required:"" help:"Package release"`
	PkgVersion          string `name:"pkg_version" help:"Package version (default: current unix time)"`
	BuildContainerImage string `name:"build_container_image" required:"" help:"Build container image"`
	RepositoryName      string `name:"repository_name" required:"" help:"Repository name, also the spec file base name"`
	CurlTokenFile       string `name:"curl_token_file" help:"File with the GitLab token, mounted into the container (gitlab_api)"`
	GitSSHKey           string `name:"git_ssh_key" help:"SSH key for cloning (git_clone)"`
	BuildDepsRepo       string `name:"build_deps_repo" help:"Yum repository file with build dependencies (git_clone)"`
	SpecFile            string `name:"spec_file" help:"Spec file (git_clone)"`
	ReportFile          string `name:"report_file" help:"Write a YAML report of the run to this file"`
}

// Request converts the flags into a build request, filling in defaults.
func (b *BuildCmd) Request(now time.Time) *models.BuildRequest {
	req := &models.BuildRequest{
		SourceMethod:        models.SourceMethod(b.GetSrcMethod),
		GitlabURL:           b.GitlabURL,
		RepositoryName:      b.RepositoryName,
		Branch:              b.PkgBranch,
		ReleaseVersion:      b.ReleaseVer,
		PackageVersion:      b.PkgVersion,
		BuildContainerImage: b.BuildContainerImage,
		CurrentTime:         b.CurrentTime,
		SSHKeyPath:          b.GitSSHKey,
		BuildDepsRepoPath:   b.BuildDepsRepo,
		SpecFilePath:        b.SpecFile,
		TokenFilePath:       b.CurlTokenFile,
	}
	if req.PackageVersion == "" {
		req.PackageVersion = strconv.FormatInt(now.Unix(), 10)
	}
	if req.CurrentTime == "" {
		req.CurrentTime = buildToken(now)
	}
	return req
}

// buildToken is unique per run even when two runs start in the same second.
func buildToken(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.Unix(), uuid.NewString()[:8])
}

func (b *BuildCmd) Run(root *CLI) error {
	req := b.Request(time.Now())
	if err := req.Validate(); err != nil {
		return err
	}

	settings, err := root.loadSettings()
	if err != nil {
		return err
	}
	cfg := settings.Config()

	runner, err := builder.NewRunner(cfg.Builder)
	if err != nil {
		return rerrors.Wrap(err, rerrors.KindBuildInvocation, "cannot set up container runtime %s", cfg.Builder.ContainerRuntime)
	}

	timeout := time.Duration(cfg.Builder.HTTPTimeoutSeconds) * time.Second
	sources := source.NewSet(
		source.NewGitClone(),
		source.NewGitlabAPI(settings, source.HTTPClientFactory(timeout)),
	)

	opts := []builder.Option{builder.WithContainerUser(cfg.Builder.ContainerUser)}

	var registry *prom.Registry
	if cfg.Metrics.Textfile != "" {
		registry = prom.NewRegistry()
		opts = append(opts, builder.WithRecorder(metrics.NewPrometheusRecorder(registry)))
	}

	if cfg.History.DatabasePath != "" {
		history, err := db.NewDB(cfg.History.DatabasePath)
		if err != nil {
			slog.Warn("Build history disabled", logfields.Path(cfg.History.DatabasePath), logfields.Error(err))
		} else {
			defer history.Close()
			opts = append(opts, builder.WithHistory(history))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, runErr := builder.NewPipeline(settings, sources, runner, opts...).Run(ctx, req)

	if b.ReportFile != "" {
		if err := report.WriteYAML(b.ReportFile); err != nil {
			slog.Warn("Failed to write report", logfields.Path(b.ReportFile), logfields.Error(err))
		}
	}
	if registry != nil {
		if err := metrics.WriteTextfile(cfg.Metrics.Textfile, registry); err != nil {
			slog.Warn("Failed to write metrics", logfields.Error(err))
		}
	}

	return runErr
}

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Repository string `short:"r" help:"Only show builds of this repository"`
	Limit      int    `short:"n" default:"20" help:"Maximum number of builds to show"`
	Output     string `short:"o" default:"table" enum:"table,json,yaml" help:"Output format (table, json, yaml)"`
}

func (h *HistoryCmd) Run(root *CLI) error {
	settings, err := root.loadSettings()
	if err != nil {
		return err
	}

	history, err := root.openHistory(settings.Config())
	if err != nil {
		return err
	}
	defer history.Close()

	records, err := history.ListBuildRecords(h.Repository, h.Limit)
	if err != nil {
		return err
	}

	return writeRecords(root.stdout, h.Output, records)
}

func writeRecords(w io.Writer, format string, records []*models.BuildRecord) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case "yaml":
		return yaml.NewEncoder(w).Encode(records)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKSPACE\tMETHOD\tSTATUS\tSTAGE\tEXIT\tSTARTED")
	for _, r := range records {
		exit := "-"
		if r.ExitCode != nil {
			exit = strconv.Itoa(*r.ExitCode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Workspace, r.SourceMethod, r.Status, r.Stage, exit, r.StartedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

// ServeCmd implements the 'serve' command.
type ServeCmd struct {
	Host string `help:"Listen address (default: server.host)"`
	Port int    `help:"Listen port (default: server.port)"`
}

func (s *ServeCmd) Run(root *CLI) error {
	settings, err := root.loadSettings()
	if err != nil {
		return err
	}
	cfg := settings.Config()

	history, err := root.openHistory(cfg)
	if err != nil {
		return err
	}
	defer history.Close()

	serverCfg := cfg.Server
	if s.Host != "" {
		serverCfg.Host = s.Host
	}
	if s.Port != 0 {
		serverCfg.Port = s.Port
	}

	registry := prom.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return api.NewServer(history, serverCfg, registry, root.Verbose).Run(ctx)
}
