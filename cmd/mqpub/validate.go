package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/umran/mqpub"
	"github.com/umran/mqpub/schema"
)

func buildSchema(c *cli.Context) (*schema.Schema, error) {
	var opts []schema.Option
	if constraint := c.String("version-constraint"); constraint != "" {
		opt, err := schema.WithVersionConstraint(constraint)
		if err != nil {
			return nil, err
		}
		opts = append(opts, opt)
	}
	return schema.EventSchema(c.Bool("coerce"), c.Bool("strict"), c.Bool("nullable"), opts...), nil
}

// readRows decodes a stream of JSON objects, one row each. Numbers are kept
// as json.Number so the schema decides how to convert them.
func readRows(r io.Reader) ([]schema.Row, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var rows []schema.Row
	for {
		var row schema.Row
		err := dec.Decode(&row)
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", len(rows), err)
		}
		rows = append(rows, row)
	}
}

func openInput(c *cli.Context) (io.ReadCloser, error) {
	path := c.String("input")
	if path == "-" {
		return io.NopCloser(c.App.Reader), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, nil
}

// validateEvents writes the valid rows to stdout as JSON lines and publishes
// the rejected ones to the dead-letter topic.
func (env *environment) validateEvents(c *cli.Context) error {
	sch, err := buildSchema(c)
	if err != nil {
		return err
	}

	in, err := openInput(c)
	if err != nil {
		return err
	}
	rows, err := readRows(in)
	in.Close() //nolint:errcheck // read-only
	if err != nil {
		return fmt.Errorf("failed to read rows: %w", err)
	}

	deadLetterTopic := c.String("dead-letter-topic")

	return env.run(c, func(ctx context.Context, s *session) error {
		settings, err := s.settings()
		if err != nil {
			return err
		}
		return s.withPublisher(ctx, settings, func(p *mqpub.Publisher) error {
			router := schema.NewDeadLetterRouter(sch, p, deadLetterTopic, s.log)
			valid, results, routeErr := router.Route(rows)

			var errs []error
			if routeErr != nil {
				errs = append(errs, routeErr)
			}
			for _, r := range results {
				if _, err := r.Get(ctx); err != nil {
					errs = append(errs, fmt.Errorf("dead-letter message %d: %w", r.Sequence(), err))
				}
			}

			enc := json.NewEncoder(c.App.Writer)
			for _, row := range valid {
				if err := enc.Encode(row); err != nil {
					return fmt.Errorf("failed to write row: %w", err)
				}
			}

			s.log.Infow("validated events",
				"rows", len(rows),
				"valid", len(valid),
				"rejected", len(rows)-len(valid),
				"deadLetterTopic", deadLetterTopic,
			)
			return errors.Join(errs...)
		})
	})
}
