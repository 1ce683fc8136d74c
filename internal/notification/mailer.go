package notification

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"sync"
	"time"

	internal "github.com/guidy/payments/internal"
)

// EmailJob is one queued message.
type EmailJob struct {
	To      string
	Subject string
	Body    string
}

type Worker struct {
	ID         int
	WorkerPool chan chan EmailJob
	JobChannel chan EmailJob
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan EmailJob, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan EmailJob),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(EmailJob)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			w.WorkerPool <- w.JobChannel

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("worker sending email", "worker_id", w.ID, "to", job.To)
				processFunc(job)
			case <-ctx.Done():
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

// SendFunc delivers one message. Swappable so tests never open sockets.
type SendFunc func(addr, from string, to []string, msg []byte) error

func smtpSend(addr, from string, to []string, msg []byte) error {
	return smtp.SendMail(addr, nil, from, to, msg)
}

// Mailer sends transactional email behind a worker pool. Enqueue never
// blocks the caller: when the queue is full the message is dropped and
// logged, because a payment must not wait on email.
type Mailer struct {
	smtpAddr    string
	from        string
	sendTimeout time.Duration
	send        SendFunc
	logger      *slog.Logger

	jobQueue   chan EmailJob
	workerPool chan chan EmailJob
	maxWorkers int
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
}

func NewMailer(cfg internal.NotificationConfig, logger *slog.Logger) *Mailer {
	return newMailer(cfg, smtpSend, logger)
}

func newMailer(cfg internal.NotificationConfig, send SendFunc, logger *slog.Logger) *Mailer {
	ctx, cancel := context.WithCancel(context.Background())

	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}

	m := &Mailer{
		smtpAddr:    cfg.SMTPAddr,
		from:        cfg.From,
		sendTimeout: cfg.SendTimeout,
		send:        send,
		logger:      logger,

		maxWorkers: maxWorkers,
		jobQueue:   make(chan EmailJob, queueSize),
		workerPool: make(chan chan EmailJob, maxWorkers),
		ctx:        ctx,
		cancel:     cancel,
	}

	m.startWorkerPool()

	return m
}

func (m *Mailer) startWorkerPool() {
	m.once.Do(func() {
		for i := 0; i < m.maxWorkers; i++ {
			worker := NewWorker(i, m.workerPool, m.logger)
			worker.Start(m.ctx, &m.wg, m.processEmailJob)
		}

		go m.dispatch()

		m.logger.Info("mailer worker pool started",
			"max_workers", m.maxWorkers,
			"queue_size", cap(m.jobQueue))
	})
}

func (m *Mailer) dispatch() {
	m.wg.Add(1)
	defer m.wg.Done()

	for {
		select {
		case job := <-m.jobQueue:
			select {
			case jobChannel := <-m.workerPool:
				select {
				case jobChannel <- job:
				case <-m.ctx.Done():
					m.logger.Info("mail dispatcher shutting down")
					return
				}
			case <-m.ctx.Done():
				m.logger.Info("mail dispatcher shutting down")
				return
			}
		case <-m.ctx.Done():
			m.logger.Info("mail dispatcher shutting down")
			return
		}
	}
}

// Enqueue queues a message for delivery and reports whether it was accepted.
func (m *Mailer) Enqueue(job EmailJob) bool {
	select {
	case m.jobQueue <- job:
		return true
	default:
		m.logger.Warn("mail queue full, dropping message", "to", job.To, "subject", job.Subject)
		return false
	}
}

func (m *Mailer) processEmailJob(job EmailJob) {
	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"utf-8\"\r\n\r\n%s\r\n",
		m.from, job.To, job.Subject, job.Body))

	done := make(chan error, 1)
	go func() {
		done <- m.send(m.smtpAddr, m.from, []string{job.To}, msg)
	}()

	timeout := m.sendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	select {
	case err := <-done:
		if err != nil {
			m.logger.Error("failed to send email", "to", job.To, "subject", job.Subject, "error", err)
			return
		}
		m.logger.Info("email sent", "to", job.To, "subject", job.Subject)
	case <-time.After(timeout):
		m.logger.Error("email send timed out", "to", job.To, "subject", job.Subject, "timeout", timeout)
	case <-m.ctx.Done():
	}
}

func (m *Mailer) Shutdown() {
	m.logger.Info("shutting down mailer")
	m.cancel()
	m.wg.Wait()
	m.logger.Info("mailer shutdown complete")
}
