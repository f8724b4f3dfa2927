package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"strings"
	"sync"
	"time"

	"gopkg.in/gomail.v2"

	"offer_booster/internal/logbus"
	"offer_booster/internal/model"
)

// EmailNotifier queues notifications and mails them in batches. Publish never
// blocks on SMTP.
type EmailNotifier struct {
	settings model.EmailSettings
	title    string
	bus      *logbus.Bus
	send     func(ctx context.Context, settings model.EmailSettings, subject string, items []Notification) error

	mu     sync.Mutex
	queue  chan Notification
	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup

	summaryWindow time.Duration
	maxBatch      int
}

func NewEmailNotifier(settings model.EmailSettings, title string, summaryWindow time.Duration, bus *logbus.Bus) *EmailNotifier {
	return newEmailNotifier(settings, title, summaryWindow, bus, SendSummaryEmail)
}

func newEmailNotifier(
	settings model.EmailSettings,
	title string,
	summaryWindow time.Duration,
	bus *logbus.Bus,
	send func(context.Context, model.EmailSettings, string, []Notification) error,
) *EmailNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &EmailNotifier{
		settings:      settings,
		title:         title,
		bus:           bus,
		send:          send,
		queue:         make(chan Notification, 200),
		ctx:           ctx,
		cancel:        cancel,
		summaryWindow: summaryWindow,
		maxBatch:      50,
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

// Close flushes whatever is queued and waits for the loop to exit.
func (n *EmailNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}

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

func (n *EmailNotifier) Publish(_ context.Context, message string, level model.Level) {
	item := Notification{At: time.Now(), Title: n.title, Message: message, Level: level}
	select {
	case n.queue <- item:
	default:
		logFailure(n.bus, "email", fmt.Errorf("%w: queue full, dropped %q", model.ErrNotifyFailed, message))
	}
}

func (n *EmailNotifier) loop() {
	defer n.wg.Done()

	var (
		pending []Notification
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	stopTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer = nil
		timerCh = nil
	}

	resetTimer := func() {
		if timer == nil {
			timer = time.NewTimer(n.summaryWindow)
			timerCh = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(n.summaryWindow)
	}

	flush := func(reason string) {
		if len(pending) == 0 {
			stopTimer()
			return
		}
		items := append([]Notification(nil), pending...)
		pending = pending[:0]
		stopTimer()
		n.handleBatch(reason, items)
	}

	for {
		select {
		case <-n.ctx.Done():
		drain:
			for {
				select {
				case item := <-n.queue:
					pending = append(pending, item)
				default:
					break drain
				}
			}
			flush("shutdown")
			return
		case item := <-n.queue:
			pending = append(pending, item)
			if n.maxBatch > 0 && len(pending) >= n.maxBatch {
				flush("max")
				continue
			}
			if n.summaryWindow <= 0 {
				flush("immediate")
				continue
			}
			resetTimer()
		case <-timerCh:
			flush("idle")
		}
	}
}

func (n *EmailNotifier) handleBatch(reason string, items []Notification) {
	if err := validateEmailSettings(n.settings); err != nil {
		logFailure(n.bus, "email", fmt.Errorf("%w: %v", model.ErrNotifyFailed, err))
		return
	}

	// The loop context is already cancelled during the shutdown flush.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(n.ctx), 30*time.Second)
	defer cancel()

	if err := n.send(ctx, n.settings, buildSummarySubject(n.title, items), items); err != nil {
		logFailure(n.bus, "email", fmt.Errorf("%w: %v", model.ErrNotifyFailed, err))
		return
	}
	if n.bus != nil {
		n.bus.Log("info", "notification email sent", map[string]any{
			"count":  len(items),
			"reason": reason,
			"to":     recipient(n.settings),
		})
	}
}

func validateEmailSettings(s model.EmailSettings) error {
	email := strings.TrimSpace(s.Email)
	if email == "" {
		return errors.New("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return errors.New("invalid email")
	}
	if to := strings.TrimSpace(s.To); to != "" {
		if _, err := mail.ParseAddress(to); err != nil {
			return errors.New("invalid recipient")
		}
	}
	if strings.TrimSpace(s.AuthCode) == "" {
		return errors.New("auth_code is required")
	}
	return nil
}

func recipient(s model.EmailSettings) string {
	if to := strings.TrimSpace(s.To); to != "" {
		return to
	}
	return strings.TrimSpace(s.Email)
}

// SendSummaryEmail mails items as one message through the sender's SMTP server.
func SendSummaryEmail(ctx context.Context, settings model.EmailSettings, subject string, items []Notification) error {
	if err := validateEmailSettings(settings); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(items) == 0 {
		return errors.New("no notifications")
	}

	email := strings.TrimSpace(settings.Email)
	host, port, useSSL, err := smtpConfig(settings)
	if err != nil {
		return err
	}
	htmlBody, textBody, err := buildSummaryEmailBody(subject, items)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(email, "Offer Booster"))
	msg.SetHeader("To", recipient(settings))
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", textBody)
	msg.AddAlternative("text/html", htmlBody)

	d := gomail.NewDialer(host, port, email, strings.TrimSpace(settings.AuthCode))
	d.SSL = useSSL
	return d.DialAndSend(msg)
}

func smtpConfig(s model.EmailSettings) (host string, port int, useSSL bool, err error) {
	if h := strings.TrimSpace(s.SMTPHost); h != "" {
		port = s.SMTPPort
		if port <= 0 {
			port = 587
		}
		return h, port, port == 465, nil
	}
	return smtpConfigForEmail(s.Email)
}

func smtpConfigForEmail(email string) (host string, port int, useSSL bool, err error) {
	parts := strings.Split(strings.TrimSpace(email), "@")
	if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
		return "", 0, false, errors.New("invalid email format")
	}
	domain := strings.ToLower(strings.TrimSpace(parts[1]))
	is := func(d string) bool { return domain == d || strings.HasSuffix(domain, "."+d) }

	switch {
	case is("gmail.com"):
		return "smtp.gmail.com", 587, false, nil
	case is("outlook.com"), is("hotmail.com"), is("live.com"), is("outlook.com.au"), is("hotmail.com.au"):
		return "smtp.office365.com", 587, false, nil
	case is("yahoo.com"), is("yahoo.com.au"):
		return "smtp.mail.yahoo.com", 465, true, nil
	case is("icloud.com"), is("me.com"):
		return "smtp.mail.me.com", 587, false, nil
	case is("bigpond.com"), is("telstra.com"):
		return "smtp.telstra.com", 465, true, nil
	default:
		return "smtp." + domain, 465, true, nil
	}
}

func buildSummarySubject(title string, items []Notification) string {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Loyalty Points"
	}
	worst := model.LevelInfo
	for _, it := range items {
		if levelRank(it.Level) > levelRank(worst) {
			worst = it.Level
		}
	}
	if len(items) == 1 {
		return fmt.Sprintf("%s [%s]", title, worst)
	}
	return fmt.Sprintf("%s [%s] (%d updates)", title, worst, len(items))
}

func levelRank(l model.Level) int {
	switch l {
	case model.LevelError:
		return 2
	case model.LevelWarning:
		return 1
	default:
		return 0
	}
}

var summaryHTML = template.Must(template.New("summary").Funcs(template.FuncMap{"levelColor": levelColor}).Parse(`<!doctype html>
<html>
<body style="font-family:Arial,Helvetica,sans-serif;color:#222">
<h2 style="margin:0 0 12px">{{.Subject}}</h2>
<table cellpadding="6" cellspacing="0" style="border-collapse:collapse">
<tr style="background:#f2f2f2"><th align="left">Time</th><th align="left">Level</th><th align="left">Message</th></tr>
{{range .Items}}<tr>
<td>{{.At.Format "2006-01-02 15:04:05"}}</td>
<td style="color:{{levelColor .Level}}">{{.Level}}</td>
<td>{{.Message}}</td>
</tr>
{{end}}</table>
</body>
</html>`))

func levelColor(l model.Level) string {
	switch l {
	case model.LevelError:
		return "#c0392b"
	case model.LevelWarning:
		return "#d35400"
	default:
		return "#27ae60"
	}
}

func buildSummaryEmailBody(subject string, items []Notification) (htmlBody string, textBody string, err error) {
	var text strings.Builder
	text.WriteString(subject)
	text.WriteString("\n\n")
	for _, it := range items {
		fmt.Fprintf(&text, "%s [%s] %s\n", it.At.Format("2006-01-02 15:04:05"), it.Level, safeText(it.Message))
	}

	var buf bytes.Buffer
	if err := summaryHTML.Execute(&buf, map[string]any{"Subject": subject, "Items": items}); err != nil {
		return "", "", err
	}
	return buf.String(), text.String(), nil
}

func safeText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "-"
	}
	return s
}
