package services

import (
	"fmt"
	"html"
	"time"

	"fintracker/config"
	"fintracker/models"

	"gopkg.in/gomail.v2"
)

// mailSender - часть gomail.Dialer, которая нужна сервису
type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailService предоставляет методы для отправки email
type EmailService struct {
	dialer mailSender
	from   string
}

// NewEmailService создает новый экземпляр EmailService
func NewEmailService(cfg *config.Config) *EmailService {
	dialer := gomail.NewDialer(
		cfg.SMTP.Host,
		cfg.SMTP.Port,
		cfg.SMTP.Username,
		cfg.SMTP.Password,
	)

	return &EmailService{
		dialer: dialer,
		from:   cfg.SMTP.From,
	}
}

// SendEmail отправляет email
func (s *EmailService) SendEmail(to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("ошибка отправки email: %w", err)
	}

	return nil
}

// SendBorrowingReminder отправляет напоминание о приближающемся сроке долга
func (s *EmailService) SendBorrowingReminder(to string, b *models.Borrowing, now time.Time) error {
	subject, body := renderReminder(b, now)
	return s.SendEmail(to, subject, body)
}

// renderReminder формирует тему и тело письма-напоминания
func renderReminder(b *models.Borrowing, now time.Time) (string, string) {
	due := b.DueDate.In(now.Location())
	daysLeft := int(startOfDay(due).Sub(startOfDay(now)) / day)

	var when string
	switch daysLeft {
	case 0:
		when = "сегодня"
	case 1:
		when = "завтра"
	default:
		when = fmt.Sprintf("через %d дн.", daysLeft)
	}

	name := html.EscapeString(b.CounterpartyName)
	amount := b.Remaining.StringFixed(2)

	var subject, line string
	switch b.Direction {
	case models.DirectionBorrowed:
		subject = fmt.Sprintf("Напоминание: %s срок возврата долга", when)
		line = fmt.Sprintf("Вы должны вернуть <b>%s</b> контрагенту %s.", amount, name)
	default:
		subject = fmt.Sprintf("Напоминание: %s срок возврата денег, которые вы одолжили", when)
		line = fmt.Sprintf("%s должен вернуть вам <b>%s</b>.", name, amount)
	}

	body := fmt.Sprintf(`
		<h2>Напоминание о долге</h2>
		<p>%s</p>
		<p>Срок: %s (%s)</p>
		<p>Осталось выплатить: %s из %s</p>
	`, line, due.Format("02.01.2006"), when, amount, b.Principal.StringFixed(2))

	return subject, body
}
