package push

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hashicorp-forge/pushapi/internal/cmd/base"
	"github.com/hashicorp-forge/pushapi/internal/config"
	"github.com/hashicorp-forge/pushapi/pkg/batcher"
	"github.com/hashicorp-forge/pushapi/pkg/indexer"
	"github.com/hashicorp-forge/pushapi/pkg/status"
)

// ExitProtocolMismatch is returned when a folder is pushed with the Stream
// API.
const ExitProtocolMismatch = 6

type Command struct {
	*base.Command

	flagConfig          string
	flagEnvFile         string
	flagDeleteOlderThan hoursValue
	flagDryRun          bool
	flagStream          bool
	flagStrict          bool
	flagMaxBatchSize    string
	flagArtifactDir     string
}

func (c *Command) Synopsis() string {
	return "Push a JSON file or a folder of JSON files to a Push source"
}

func (c *Command) Help() string {
	return `Usage: pushapi push [options] <file-or-folder>

  Pushes the documents of a JSON file, or of every *.json file of a folder, to
  the source named in the configuration file. The source is set to REBUILD
  while documents are sent and back to IDLE afterwards.

  A file holds either a single document, an array of documents or an object
  with an "AddOrUpdate" array. Folders are packed into batches of at most
  -max-batch-size bytes.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("push", flag.ContinueOnError))
	f.SetOutput(io.Discard)

	f.StringVar(&c.flagConfig, "config", config.DefaultFileName,
		"Path to the configuration file.")
	f.StringVar(&c.flagEnvFile, "env-file", ".env",
		"Dotenv file with PUSHAPI_* overrides. Ignored when missing.")
	f.Var(&c.flagDeleteOlderThan, "deleteOlderThan",
		"Delete documents older than this many hours before pushing. 0 deletes every document not pushed by this run.")
	f.Alias("d", "deleteOlderThan")
	f.BoolVar(&c.flagDryRun, "dry-run", false,
		"Validate and write batches to local artifacts instead of sending them.")
	f.Alias("D", "dry-run")
	f.BoolVar(&c.flagStream, "stream", false,
		"Use the Stream API. Only a single file can be streamed.")
	f.Alias("S", "stream")
	f.BoolVar(&c.flagStrict, "strict", false,
		"Exit with an error when any file was skipped.")
	f.StringVar(&c.flagMaxBatchSize, "max-batch-size", humanize.IBytes(batcher.MaxBufferSize),
		"Maximum size of a batch of files, such as 100MiB.")
	f.StringVar(&c.flagArtifactDir, "artifact-dir", ".",
		"Folder that receives dry-run artifacts.")

	return f
}

func (c *Command) Run(args []string) int {
	f := c.Flags()
	positional, err := f.ParseInterspersed(args)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}
	if len(positional) != 1 {
		c.UI.Error("a single file or folder argument is required")
		c.UI.Info(c.Help())
		return 1
	}
	target := positional[0]

	maxSize, err := humanize.ParseBytes(c.flagMaxBatchSize)
	if err != nil || maxSize == 0 {
		c.UI.Error(fmt.Sprintf("invalid -max-batch-size %q", c.flagMaxBatchSize))
		return 1
	}

	cfg, code := c.LoadConfig(c.flagConfig, c.flagEnvFile)
	if code != 0 {
		return code
	}

	opts := []indexer.Option{
		indexer.WithFs(c.Fs),
		indexer.WithLogger(c.Log),
		indexer.WithStream(c.flagStream || cfg.UseStreamAPI),
		indexer.WithDryRun(c.flagDryRun, c.flagArtifactDir),
		indexer.WithMaxBatchSize(int64(maxSize)),
	}
	if c.flagDeleteOlderThan.set {
		opts = append(opts, indexer.WithDeleteOlderThan(c.flagDeleteOlderThan.age))
	}
	if !c.flagDryRun {
		client, err := c.NewClient(cfg)
		if err != nil {
			c.UI.Error(err.Error())
			return 1
		}
		opts = append(opts, indexer.WithAPI(client))
	}

	orch, err := indexer.NewOrchestrator(opts...)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error creating orchestrator: %v", err))
		return 1
	}

	ctx, stop := c.ShutdownContext()
	defer stop()

	sum, err := orch.Run(ctx, target)
	if errors.Is(err, indexer.ErrProtocolMismatch) {
		c.UI.Error(fmt.Sprintf("%v; push %q without -stream or pick a single file", err, target))
		return ExitProtocolMismatch
	}
	if sum == nil {
		c.UI.Error(fmt.Sprintf("push failed: %v", err))
		return base.ExitRunError
	}

	c.report(sum)

	if err != nil {
		c.UI.Error(fmt.Sprintf("push failed: %v", err))
		return base.ExitRunError
	}
	if c.flagStrict && len(sum.Dropped) > 0 {
		c.UI.Error(fmt.Sprintf("%d file(s) skipped", len(sum.Dropped)))
		return base.ExitRunError
	}
	return 0
}

func (c *Command) report(sum *indexer.Summary) {
	for _, d := range sum.Dropped {
		c.UI.Warn(fmt.Sprintf("skipped %s: %v", d.Path, d.Err))
	}

	verb := "Pushed"
	if sum.DryRun {
		verb = "Validated"
	}
	c.UI.Output(fmt.Sprintf("%s %s document(s) from %s file(s) in %s batch(es) in %s.",
		verb,
		humanize.Comma(int64(sum.Documents)),
		humanize.Comma(int64(sum.Files)),
		humanize.Comma(int64(sum.Batches)),
		sum.Duration.Round(time.Millisecond),
	))
	if sum.FailedBatches > 0 {
		c.UI.Warn(fmt.Sprintf("%d batch(es) failed.", sum.FailedBatches))
	}
	if sum.Deleted {
		c.UI.Output("Deleted documents older than the requested age.")
	}
}

// hoursValue is a flag.Value holding an optional number of hours.
type hoursValue struct {
	hours float64
	age   time.Duration
	set   bool
}

func (h *hoursValue) String() string {
	if h == nil || !h.set {
		return ""
	}
	return strconv.FormatFloat(h.hours, 'f', -1, 64)
}

func (h *hoursValue) Set(s string) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("%q is not a number of hours", s)
	}
	age, err := status.HoursDuration(v)
	if err != nil {
		return err
	}
	h.hours = v
	h.age = age
	h.set = true
	return nil
}
