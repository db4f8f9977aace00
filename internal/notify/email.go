package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"gopkg.in/gomail.v2"

	"listen_engine/internal/config"
	"listen_engine/internal/logbus"
	"listen_engine/internal/model"
)

// Notifier receives engine events worth surfacing outside the process.
type Notifier interface {
	TaskCompleted(task model.Task)
	DataRequired(flags model.DataFlag)
}

// NopNotifier drops everything. Used when email is disabled.
type NopNotifier struct{}

func (NopNotifier) TaskCompleted(model.Task)    {}
func (NopNotifier) DataRequired(model.DataFlag) {}

type emailEvent struct {
	subject string
	body    string
}

// EmailNotifier sends engine events by SMTP from a background queue so the
// scheduler never blocks on a mail server.
type EmailNotifier struct {
	cfg config.EmailConfig
	bus *logbus.Bus

	queue  chan emailEvent
	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup
}

func NewEmailNotifier(cfg config.EmailConfig, bus *logbus.Bus) *EmailNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &EmailNotifier{
		cfg:    cfg,
		bus:    bus,
		queue:  make(chan emailEvent, 100),
		ctx:    ctx,
		cancel: cancel,
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

func (n *EmailNotifier) Close(ctx context.Context) error {
	n.cancel()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *EmailNotifier) TaskCompleted(task model.Task) {
	gained := task.Progress.Actual - task.Progress.Initial
	n.enqueue(emailEvent{
		subject: fmt.Sprintf("Task completed: %s", task.Playlist.Title),
		body: fmt.Sprintf(
			"Playlist %q reached its listen goal.\n\nTarget: %d\nCounter: %d\nGained: %d\nCompleted at: %s\n",
			task.Playlist.Title,
			task.Progress.Target,
			task.Progress.Actual,
			gained,
			time.Now().Format(time.RFC1123),
		),
	})
}

func (n *EmailNotifier) DataRequired(flags model.DataFlag) {
	n.enqueue(emailEvent{
		subject: "Engine is waiting for data",
		body: fmt.Sprintf(
			"The engine cannot continue until the following resources are provided: %s\n",
			flags.String(),
		),
	})
}

func (n *EmailNotifier) enqueue(evt emailEvent) {
	select {
	case n.queue <- evt:
	default:
		if n.bus != nil {
			n.bus.Log("warn", "email notification dropped, queue is full", map[string]any{
				"subject": evt.subject,
			})
		}
	}
}

func (n *EmailNotifier) loop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			return
		case evt := <-n.queue:
			if err := n.send(evt); err != nil && n.bus != nil {
				n.bus.Log("warn", "email send failed", map[string]any{
					"subject": evt.subject,
					"error":   err.Error(),
				})
			}
		}
	}
}

func (n *EmailNotifier) send(evt emailEvent) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(n.cfg.From, "listen engine"))
	msg.SetHeader("To", n.cfg.To...)
	msg.SetHeader("Subject", evt.subject)
	msg.SetBody("text/plain", evt.body)

	port := n.cfg.Port
	if port <= 0 {
		port = 465
	}
	d := gomail.NewDialer(n.cfg.Host, port, strings.TrimSpace(n.cfg.Username), strings.TrimSpace(n.cfg.Password))
	return d.DialAndSend(msg)
}
