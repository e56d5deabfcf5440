package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/umran/mqpub"
)

// Publisher is the part of *mqpub.Publisher the router needs.
type Publisher interface {
	Publish(topicID string, msg *mqpub.Message) *mqpub.PublishResult
}

// DeadLetterRouter validates batches of rows and publishes the ones that fail
// to a dead-letter topic as JSON, tagged with the validation error and the
// row's index in the batch.
type DeadLetterRouter struct {
	schema    *Schema
	publisher Publisher
	topic     string
	log       *zap.SugaredLogger
}

// NewDeadLetterRouter returns a router publishing rejected rows to topic.
func NewDeadLetterRouter(s *Schema, publisher Publisher, topic string, log *zap.SugaredLogger) *DeadLetterRouter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &DeadLetterRouter{
		schema:    s,
		publisher: publisher,
		topic:     topic,
		log:       log,
	}
}

// Route returns the valid rows and one publish handle per rejected row.
// Rows that cannot be encoded are reported in the error and not published;
// the remaining rows are still routed.
func (r *DeadLetterRouter) Route(rows []Row) ([]Row, []*mqpub.PublishResult, error) {
	valid, rejected := r.schema.Validate(rows)

	var (
		results []*mqpub.PublishResult
		errs    []error
	)
	for _, rej := range rejected {
		data, err := json.Marshal(rej.Row)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode row %d: %w", rej.Index, err))
			continue
		}

		r.log.Debugw("routing row to dead-letter topic",
			"topic", r.topic,
			"row_index", rej.Index,
			"error", rej.Err,
		)
		results = append(results, r.publisher.Publish(r.topic, &mqpub.Message{
			Data: data,
			Attributes: map[string]string{
				"error":     rej.Err.Error(),
				"row_index": strconv.Itoa(rej.Index),
			},
		}))
	}

	if len(rejected) > 0 {
		r.log.Infow("rows rejected", "topic", r.topic, "rejected", len(rejected), "valid", len(valid))
	}
	return valid, results, errors.Join(errs...)
}
