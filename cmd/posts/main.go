package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davidleitw/forumcollect/internal/collector"
	"github.com/davidleitw/forumcollect/internal/config"
	"github.com/davidleitw/forumcollect/internal/craw"
	"github.com/davidleitw/forumcollect/internal/db"
	"github.com/davidleitw/forumcollect/internal/rule"
	"github.com/davidleitw/forumcollect/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logrus.SetReportCaller(true)
}

var flags struct {
	configPath string
	verbose    bool

	board    string
	keywords []string
	matchAll bool
	queries  []string
	maxPages int

	output  string
	merge   bool
	csvPath string
	dbPath  string
}

var rootCmd = &cobra.Command{
	Use:           "posts --board <name> --keywords <k1,k2> [--output posts.json]",
	Short:         "Collects board posts matching keywords into a JSON file.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flags.verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
	RunE: runPosts,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flags.configPath, "config", "", "Config file, defaults to ./config.yaml when present.")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging.")
	f.StringVarP(&flags.board, "board", "b", "", "Board (subreddit) to collect from, "+rule.DefaultBoardName+" when empty.")
	f.StringSliceVarP(&flags.keywords, "keywords", "k", nil, "Case-insensitive keywords, any one must match.")
	f.BoolVar(&flags.matchAll, "match-all", false, "Keep every post instead of filtering by keywords.")
	f.StringSliceVarP(&flags.queries, "query", "q", nil, "Use the board search endpoint with these queries instead of the listing.")
	f.IntVar(&flags.maxPages, "max-pages", rule.Unbounded, "Stop after this many pages per listing, 0 for no limit.")
	f.StringVarP(&flags.output, "output", "o", "posts.json", "Output JSON file.")
	f.BoolVar(&flags.merge, "merge", false, "Merge into an existing output file by id instead of replacing it.")
	f.StringVar(&flags.csvPath, "csv", "", "Also write the posts as CSV to this path.")
	f.StringVar(&flags.dbPath, "db", "", "Also archive the run into this sqlite database.")
}

func runPosts(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		logrus.WithError(err).Error("config.Load failed")
		return err
	}

	filter, err := rule.FilterFromFlags(flags.keywords, flags.matchAll)
	if err != nil {
		logrus.WithError(err).Error("rule.FilterFromFlags failed")
		return err
	}

	board := rule.DefaultBoard()
	if flags.board != "" {
		board = rule.Board(flags.board)
	}

	collectRule, err := rule.NewCollectRule(
		board,
		rule.Queries(flags.queries...),
		rule.Keywords(filter),
		rule.MaxPages(flags.maxPages),
	)
	if err != nil {
		logrus.WithError(err).Error("rule.NewCollectRule failed")
		return err
	}

	crawler, err := craw.NewCrawler(cfg.CrawlerOptions())
	if err != nil {
		logrus.WithError(err).Error("NewCrawler error")
		return err
	}

	postCollector := collector.NewCollector(crawler)
	startedAt := time.Now()
	result, runErr := postCollector.CollectPosts(cmd.Context(), collectRule)
	if runErr != nil {
		logrus.WithError(runErr).Error("Post collection failed, writing posts collected so far")
	}

	mode := store.Replace
	if flags.merge {
		mode = store.Merge
	}
	written, err := store.WritePosts(flags.output, result.Posts, mode)
	if err != nil {
		logrus.WithError(err).Error("store.WritePosts failed")
		return err
	}

	if flags.csvPath != "" {
		if err := store.WritePostsCSV(flags.csvPath, result.Posts); err != nil {
			logrus.WithError(err).Error("store.WritePostsCSV failed")
			return err
		}
	}

	if flags.dbPath != "" {
		run := &db.RunRecord{
			Id:         postCollector.RunId(),
			Kind:       db.RunKindPosts,
			Board:      collectRule.Board,
			Keywords:   filter.String(),
			StartedAt:  startedAt,
			FinishedAt: time.Now(),
			Items:      len(result.Posts),
		}
		if runErr != nil {
			run.Error = runErr.Error()
		}
		err := db.Archive(flags.dbPath, run, func(forumDb db.ForumDB) error {
			return forumDb.SavePosts(run.Id, result.Posts)
		})
		if err != nil {
			logrus.WithError(err).Error("db.Archive failed")
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d pages, %d matching posts, %d in %s\n",
		result.RunId, result.Pages, len(result.Posts), written, flags.output)
	return runErr
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Error("Run failed")
		stop()
		os.Exit(1)
	}
}
