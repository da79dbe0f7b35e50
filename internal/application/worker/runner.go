package worker

import (
	"context"
	"sync"

	"github.com/turtacn/EpiExtract/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/EpiExtract/pkg/errors"
)

// Consumer is the part of kafka.Consumer the runner drives.
type Consumer interface {
	Subscribe(topic string, handler kafka.MessageHandler)
	Start(ctx context.Context) error
	Close() error
}

// ConsumerFactory builds the consumer of one pool member.
type ConsumerFactory func(member int) (Consumer, error)

// Runner runs a pool of consumers in one group. Kafka spreads the
// partitions of the input topic across the members.
type Runner struct {
	topic   string
	size    int
	factory ConsumerFactory
	handler kafka.MessageHandler
	logger  logging.Logger
}

// NewRunner creates a Runner of size consumers feeding handler.
func NewRunner(topic string, size int, factory ConsumerFactory, handler kafka.MessageHandler, log logging.Logger) *Runner {
	if size <= 0 {
		size = 1
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Runner{topic: topic, size: size, factory: factory, handler: handler, logger: log.Named("worker.runner")}
}

// Run starts every consumer and blocks until ctx is done, then closes them.
func (r *Runner) Run(ctx context.Context) error {
	consumers := make([]Consumer, 0, r.size)
	closeAll := func() error {
		var wg sync.WaitGroup
		errs := make([]error, len(consumers))
		for i, c := range consumers {
			wg.Add(1)
			go func(i int, c Consumer) {
				defer wg.Done()
				errs[i] = c.Close()
			}(i, c)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return err
			}
		}
		return nil
	}

	for i := 0; i < r.size; i++ {
		c, err := r.factory(i)
		if err != nil {
			_ = closeAll()
			return errors.Wrapf(err, errors.ErrCodeMessageConsume, "failed to create consumer %d", i)
		}
		consumers = append(consumers, c)
		c.Subscribe(r.topic, r.handler)
		if err := c.Start(ctx); err != nil {
			_ = closeAll()
			return err
		}
	}
	r.logger.Info("worker pool started", logging.Int("consumers", r.size), logging.String("topic", r.topic))

	<-ctx.Done()
	r.logger.Info("worker pool stopping")
	return closeAll()
}
