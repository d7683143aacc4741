package db

import "github.com/sirupsen/logrus"

// Archive opens the db at path, records run and hands the db to save.
// The run row is written first so records can reference it, and again
// afterwards in case save changed it.
func Archive(path string, run *RunRecord, save func(ForumDB) error) error {
	forumDb := NewForumDb(path)
	if err := forumDb.Open(); err != nil {
		logrus.WithError(err).Error("forumDb.Open failed")
		return err
	}
	defer forumDb.Close()

	if err := forumDb.SaveRun(run); err != nil {
		return err
	}
	if err := save(forumDb); err != nil {
		logrus.WithError(err).WithField("run", run.Id).Error("archive save failed")
		return err
	}
	if err := forumDb.SaveRun(run); err != nil {
		return err
	}

	runs, err := forumDb.Runs()
	if err != nil {
		return err
	}
	logArchiveHistory(run, runs)
	return nil
}

// logArchiveHistory reports how many earlier runs of the same kind and board
// the archive holds.
func logArchiveHistory(run *RunRecord, runs []*RunRecord) int {
	earlier := 0
	for _, archived := range runs {
		if archived.Id != run.Id && archived.Kind == run.Kind && archived.Board == run.Board {
			earlier++
		}
	}
	logrus.WithFields(logrus.Fields{
		"run":     run.Id,
		"board":   run.Board,
		"kind":    run.Kind,
		"earlier": earlier,
		"total":   len(runs),
	}).Info("Run archived")
	return earlier
}

// ArchivedPostIds returns the post ids archived for board at path.
func ArchivedPostIds(path, board string) ([]string, error) {
	forumDb := NewForumDb(path)
	if err := forumDb.Open(); err != nil {
		logrus.WithError(err).Error("forumDb.Open failed")
		return nil, err
	}
	defer forumDb.Close()

	return forumDb.PostIds(board)
}
