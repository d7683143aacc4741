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

	board     string
	postIds   []string
	postsFile string
	fromDb    bool
	keywords  []string
	matchAll  bool
	maxPages  int

	output  string
	merge   bool
	csvPath string
	dbPath  string
}

var rootCmd = &cobra.Command{
	Use:           "comments (--post-ids <id,...> | --posts-file posts.json | --board <name>) --keywords <k1,k2>",
	Short:         "Collects comments matching keywords from posts into a JSON file.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flags.verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
	RunE: runComments,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flags.configPath, "config", "", "Config file, defaults to ./config.yaml when present.")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging.")
	f.StringVarP(&flags.board, "board", "b", "", "Board (subreddit); without post ids every listed post is visited.")
	f.StringSliceVarP(&flags.postIds, "post-ids", "p", nil, "Post ids or post URLs to collect comments from.")
	f.StringVar(&flags.postsFile, "posts-file", "", "Take post ids from a posts JSON file written by the posts collector.")
	f.BoolVar(&flags.fromDb, "from-db", false, "Take post ids of --board from the --db archive.")
	f.StringSliceVarP(&flags.keywords, "keywords", "k", nil, "Case-insensitive keywords, any one must match.")
	f.BoolVar(&flags.matchAll, "match-all", false, "Keep every comment instead of filtering by keywords.")
	f.IntVar(&flags.maxPages, "max-pages", rule.Unbounded, "Page limit for board discovery and per comment tree, 0 for no limit.")
	f.StringVarP(&flags.output, "output", "o", "comments.json", "Output JSON file.")
	f.BoolVar(&flags.merge, "merge", false, "Merge into an existing output file by id instead of replacing it.")
	f.StringVar(&flags.csvPath, "csv", "", "Also write the comments as CSV to this path.")
	f.StringVar(&flags.dbPath, "db", "", "Sqlite archive for --from-db and for recording this run.")
}

// gatherPostIds unions every post id source given on the command line.
func gatherPostIds() ([]string, error) {
	ids := append([]string{}, flags.postIds...)

	if flags.postsFile != "" {
		posts, err := store.ReadPosts(flags.postsFile)
		if err != nil {
			logrus.WithError(err).Error("store.ReadPosts failed")
			return nil, err
		}
		for _, post := range posts {
			ids = append(ids, post.Id)
		}
		logrus.WithFields(logrus.Fields{"file": flags.postsFile, "posts": len(posts)}).Info("Post ids loaded from file")
	}

	if flags.fromDb {
		if flags.dbPath == "" || flags.board == "" {
			return nil, fmt.Errorf("--from-db needs --db and --board")
		}
		archived, err := db.ArchivedPostIds(flags.dbPath, flags.board)
		if err != nil {
			logrus.WithError(err).Error("db.ArchivedPostIds failed")
			return nil, err
		}
		ids = append(ids, archived...)
		logrus.WithFields(logrus.Fields{"db": flags.dbPath, "posts": len(archived)}).Info("Post ids loaded from archive")
	}

	if (flags.postsFile != "" || flags.fromDb) && len(ids) == 0 {
		return nil, fmt.Errorf("no post ids found in the given sources")
	}
	return ids, nil
}

func runComments(cmd *cobra.Command, args []string) error {
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

	postIds, err := gatherPostIds()
	if err != nil {
		return err
	}

	collectRule, err := rule.NewCollectRule(
		rule.Board(flags.board),
		rule.PostIds(postIds...),
		rule.Keywords(filter),
		rule.MaxPages(flags.maxPages),
		rule.SkipAuthors(cfg.SkipAuthors...),
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

	commentCollector := collector.NewCollector(crawler)
	startedAt := time.Now()
	result, runErr := commentCollector.CollectComments(cmd.Context(), collectRule)
	if runErr != nil {
		logrus.WithError(runErr).Error("Comment collection failed, writing comments collected so far")
	}

	mode := store.Replace
	if flags.merge {
		mode = store.Merge
	}
	written, err := store.WriteComments(flags.output, result.Comments, mode)
	if err != nil {
		logrus.WithError(err).Error("store.WriteComments failed")
		return err
	}

	if flags.csvPath != "" {
		if err := store.WriteCommentsCSV(flags.csvPath, result.Comments); err != nil {
			logrus.WithError(err).Error("store.WriteCommentsCSV failed")
			return err
		}
	}

	if flags.dbPath != "" {
		run := &db.RunRecord{
			Id:          commentCollector.RunId(),
			Kind:        db.RunKindComments,
			Board:       collectRule.Board,
			Keywords:    filter.String(),
			StartedAt:   startedAt,
			FinishedAt:  time.Now(),
			Items:       len(result.Comments),
			FailedPosts: result.FailedPosts(),
		}
		if runErr != nil {
			run.Error = runErr.Error()
		}
		err := db.Archive(flags.dbPath, run, func(forumDb db.ForumDB) error {
			return forumDb.SaveComments(run.Id, result.Comments)
		})
		if err != nil {
			logrus.WithError(err).Error("db.Archive failed")
			return err
		}
	}

	for _, failure := range result.Failures {
		logrus.WithError(failure.Err).WithField("post", failure.PostId).Warn("Comments of post not collected")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d/%d posts visited, %d failed, %d matching comments, %d in %s\n",
		result.RunId, result.PostsVisited, result.PostsRequested, result.FailedPosts(),
		len(result.Comments), written, flags.output)
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
