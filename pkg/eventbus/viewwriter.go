package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v4"
	"github.com/fabkury/makapix-sub005/pkg/models"
	"github.com/fabkury/makapix-sub005/pkg/storage"
	"github.com/sirupsen/logrus"
)

// ViewEventWriter drains validated view events off the bus and persists
// them. A transient datastore outage delays events instead of dropping
// them: each message is retried with backoff, then nacked to the router,
// which retries again before moving it to the dead letter topic.
type ViewEventWriter struct {
	router *message.Router
	logger *logrus.Entry
	repo   storage.ViewEventRepo
}

func NewViewEventWriter(logger *logrus.Entry, sub message.Subscriber, dlqPub message.Publisher, repo storage.ViewEventRepo) (*ViewEventWriter, error) {
	router, err := NewMessageRouter(logger, dlqPub)
	if err != nil {
		return nil, err
	}

	writer := &ViewEventWriter{
		router: router,
		logger: logger,
		repo:   repo,
	}

	router.AddNoPublisherHandler("view-event-writer", TopicViewValidated, sub, writer.handleMessage)

	return writer, nil
}

func (w *ViewEventWriter) handleMessage(msg *message.Message) error {
	var event models.ViewEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		// A malformed event will never deserialize on retry either.
		w.logger.Errorf("dropping undecodable view event %s: %s", msg.UUID, err)
		return nil
	}

	insert := func() error {
		_, err := w.repo.Insert(msg.Context(), &event)
		return err
	}

	err := backoff.Retry(insert, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4))
	if err != nil {
		w.logger.Errorf("could not persist view event %s: %s", event.ID, err)
		return fmt.Errorf("could not persist view event: %w", err)
	}

	w.logger.Debugf("persisted view event %s for content %s", event.ID, event.ContentID)
	return nil
}

func (w *ViewEventWriter) RunAsync() error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- w.router.Run(context.Background())
	}()

	select {
	case <-w.router.Running():
		return nil
	case err := <-errChan:
		return err
	}
}

func (w *ViewEventWriter) Stop() error {
	return w.router.Close()
}
