package queue

import (
	"context"

	"github.com/OFFIS-RIT/kinlink/backend/internal/job"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/logger"
)

// JobRunner executes a parsed job.
type JobRunner interface {
	Run(ctx context.Context, j *job.Job) (*job.RunResult, error)
}

// ProcessResolveMessage runs the job document carried by a resolve_queue
// message.
func ProcessResolveMessage(ctx context.Context, runner JobRunner, msg []byte) error {
	j, err := job.Parse(msg)
	if err != nil {
		return err
	}

	logger.Info("[Queue] Processing resolve job", "job", j.ID)
	res, err := runner.Run(ctx, j)
	if err != nil {
		return err
	}
	logger.Info("[Queue] Resolve job done", "job", j.ID, "run", res.RunID, "outputs", len(res.Outputs))
	return nil
}
