package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	rerrors "github.com/asgardahost/rpmbuilder/internal/errors"
	"github.com/asgardahost/rpmbuilder/internal/logfields"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// kongExit carries a status requested by kong (help, usage) out of Parse.
type kongExit int

// run parses args, executes the selected command and returns the process
// exit status.
func run(args []string, stdout, stderr io.Writer) (code int) {
	cli := &CLI{stdout: stdout, stderr: stderr}

	parser, err := kong.New(cli,
		kong.Name("rpmbuilder"),
		kong.Description("Build RPM packages from GitLab repositories inside a build container."),
		kong.UsageOnError(),
		kong.Writers(stdout, stderr),
		kong.Exit(func(status int) { panic(kongExit(status)) }),
	)
	if err != nil {
		_, _ = io.WriteString(stderr, err.Error()+"\n")
		return rerrors.ExitInternal
	}

	defer func() {
		if r := recover(); r != nil {
			status, ok := r.(kongExit)
			if !ok {
				panic(r)
			}
			code = int(status)
		}
	}()

	if len(args) == 0 {
		args = []string{"--help"}
	}

	ctx, err := parser.Parse(args)
	if err != nil {
		parser.Errorf("%s", err)
		return rerrors.ExitUsage
	}

	if err := ctx.Run(cli); err != nil {
		status := rerrors.ExitCode(err)
		slog.Error("rpmbuilder failed",
			slog.String("command", ctx.Command()),
			slog.String("kind", string(rerrors.KindOf(err))),
			logfields.ExitCode(status),
			logfields.Error(err))
		return status
	}

	return rerrors.ExitSuccess
}
