package mail

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hongminglow/authz-be/internal/metrics"
)

// Dispatcher sends messages in the background. Failures are logged and
// counted, never returned.
type Dispatcher struct {
	sender  Sender
	timeout time.Duration
	log     *logrus.Entry
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

// NewDispatcher wraps sender. Each send gets its own timeout.
func NewDispatcher(sender Sender, timeout time.Duration, log *logrus.Entry, m *metrics.Metrics) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{sender: sender, timeout: timeout, log: log, metrics: m}
}

// Dispatch starts delivery of msg and returns immediately.
func (d *Dispatcher) Dispatch(msg Message) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		entry := d.log.WithField("to", msg.To)
		if err := d.sender.Send(ctx, msg); err != nil {
			entry.WithError(err).Error("mail delivery failed")
			d.metrics.ObserveMail("failed")
			return
		}
		entry.Info("mail sent")
		d.metrics.ObserveMail("sent")
	}()
}

// Wait blocks until every dispatched message has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
